package synopsis

import "errors"

var errShortBloom = errors.New("synopsis: truncated bloom filter encoding")
