package accesskey

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	readKeyBytes      = 20
	readWriteKeyBytes = 40
)

// ExistsFunc reports whether either candidate key collides with a stored key
// of the same kind. The keys cannot carry a unique index because they are NULL
// for documents that predate them, so uniqueness is enforced here at issuance.
type ExistsFunc func(ctx context.Context, readKey, readWriteKey string) (bool, error)

// Provision generates a fresh (read, read-write) key pair, regenerating until
// neither key collides with an existing one. Given the key lengths the loop
// will practically never repeat.
func Provision(ctx context.Context, exists ExistsFunc) (string, string, error) {
	for {
		readKey, err := randomHex(readKeyBytes)
		if err != nil {
			return "", "", err
		}
		readWriteKey, err := randomHex(readWriteKeyBytes)
		if err != nil {
			return "", "", err
		}
		taken, err := exists(ctx, readKey, readWriteKey)
		if err != nil {
			return "", "", fmt.Errorf("check access key collision: %w", err)
		}
		if !taken {
			return readKey, readWriteKey, nil
		}
	}
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate access key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
