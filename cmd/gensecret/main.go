package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

const SecretKeyBytesLen = 32

// Variables the service reads its secret keys from
var secretNames = []string{
	"ACCESS_TOKEN_SECRET",
	"REFRESH_TOKEN_SECRET",
	"OTP_SECRET",
}

func main() {
	if err := writeSecrets(os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}
}

// writeSecrets prints fresh secrets in .env format
func writeSecrets(w io.Writer) error {
	for _, name := range secretNames {
		b := make([]byte, SecretKeyBytesLen)
		if _, err := rand.Read(b); err != nil {
			return err
		}

		if _, err := fmt.Fprintf(w, "%s=%s\n", name, hex.EncodeToString(b)); err != nil {
			return err
		}
	}
	return nil
}
