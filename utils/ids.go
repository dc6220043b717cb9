package utils

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/segmentio/ksuid"
)

// reduced set without look-alike characters
const shortIDAlphabet = "abcdefghikmonpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ0123456789"

// GenQueryID returns a time sortable id for a scan, so query logs line up in order.
func GenQueryID() string {
	return "q_" + ksuid.New().String()
}

// GenShortID returns an 8 character random id, used for temp file suffixes.
func GenShortID() string {
	return gonanoid.MustGenerate(shortIDAlphabet, 8)
}
