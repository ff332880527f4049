package auth

import "github.com/labstack/echo/v4"

// publicPaths bypass authentication so probes work without credentials.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
}

func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
