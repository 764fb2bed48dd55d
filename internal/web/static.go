package web

import (
	"embed"
)

// static holds the embedded page served at /.
//
//go:embed static/*
var staticFiles embed.FS
