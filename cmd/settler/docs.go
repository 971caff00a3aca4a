package main

//go:generate swag init -g cmd/settler/main.go -o docs

// @title           Bet Engine Settlement API
// @version         0.1.0
// @description     Resolver controls, feed health, feature switches, and account ledgers.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
