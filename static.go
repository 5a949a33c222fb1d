package main

import _ "embed"

// indexHTML is the embedded single-page interface template.
//
//go:embed web/index.html
var indexHTML string
