package handler // declare the package name; contains HTTP handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sms-service/internal/model"
	"github.com/iliyamo/sms-service/internal/version"
)

// Health reports liveness and the running version.  It does not call any
// dependency, so it answers even when IAM or Secrets Manager is down or
// the service is missing its credentials configuration.
func Health(c echo.Context) error {
	return c.JSON(http.StatusOK, model.Health{Status: "UP", AppVersion: version.Version})
}

// Healthz is the plain-text probe used by load balancers.
func Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
