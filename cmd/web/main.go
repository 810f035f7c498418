package main

import "trustwork_backend/internal/app"

func main() {
	app.Run()
}
