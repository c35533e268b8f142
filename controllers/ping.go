package controllers

import (
	"github.com/pocketbase/pocketbase/core"
)

// Ping is a simple liveness check.
func Ping(e *core.RequestEvent) {
	Success(e, "Ping success", nil)
}
