package api

import "fmt"

func errMethodNotAllowed(method string) error {
	return fmt.Errorf("method %s not allowed", method)
}

var errBadID = fmt.Errorf("missing id in path")
