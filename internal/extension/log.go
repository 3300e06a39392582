package extension

import "github.com/embertls/embertls/internal/logging"

var log = logging.DefaultLogger.WithTag("extension")
