package protocol

import "errors"

var errShortBody = errors.New("protocol: message body truncated")
