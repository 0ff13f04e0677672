package streams

import "errors"

var ErrObserverOverflow = errors.New("observer buffer overflow, event dropped")
