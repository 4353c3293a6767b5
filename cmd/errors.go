package cmd

import "errors"

var ErrNoResources = errors.New("config declares no enabled resources")
