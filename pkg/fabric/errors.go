package fabric

import "errors"

// ErrTimedOut is returned by Endpoint.RecvOrBlock when its deadline
// elapses before a message arrives.
var ErrTimedOut = errors.New("fabric: timed out")

// ErrNoMessages is returned by Endpoint.Recv when the queue is empty.
var ErrNoMessages = errors.New("fabric: no messages")
