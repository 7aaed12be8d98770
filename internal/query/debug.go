package query

import (
	"log"
	"os"
	"strings"
)

var queryDebugEnabled = strings.EqualFold(os.Getenv("UREKA_DEBUG"), "1")

func debugLog(format string, args ...interface{}) {
	if queryDebugEnabled {
		log.Printf(format, args...)
	}
}
