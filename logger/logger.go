// Package logger adapts popular logging libraries to betree.Logger.
//
// The standard library's *slog.Logger already satisfies betree.Logger.
//
// Example with zap:
//
//	import (
//	    betree "github.com/orac/be-tree"
//	    "github.com/orac/be-tree/logger"
//	    "go.uber.org/zap"
//	)
//
//	func main() {
//	    zapLogger, _ := zap.NewProduction()
//
//	    tree, err := betree.Open("data.db", betree.WithLogger(logger.NewZap(zapLogger)))
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer tree.Close()
//	}
package logger
