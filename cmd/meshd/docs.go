package main

// General API documentation for swaggo. Run `swag init -g cmd/meshd/docs.go` to generate docs.
//
// @title           meshd API
// @version         1.0
// @description     HTTP API for anisotropic mesh adaptation.
//
// @license.name   LGPL-2.1
// @license.url    https://www.gnu.org/licenses/old-licenses/lgpl-2.1.html
//
// @BasePath  /
//
// @schemes http
