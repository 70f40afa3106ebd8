package ride

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// newCode returns a 4-digit numeric verification code. crypto/rand so codes
// are not guessable from earlier rides.
func newCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		// rand.Reader failing means the process is in a bad state anyway.
		panic(err)
	}
	return fmt.Sprintf("%04d", n.Int64())
}
