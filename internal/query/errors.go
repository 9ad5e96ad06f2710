package query

import "errors"

var errLoginRequired = errors.New("login query parameter is required")
