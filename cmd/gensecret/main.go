package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

const defaultSecretBytesLen = 32

func main() {
	if err := run(os.Stdout, rand.Read, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}
}

// run prints random secret suitable for SECRET_KEY
func run(w io.Writer, random func([]byte) (int, error), args []string) error {
	fs := pflag.NewFlagSet("gensecret", pflag.ContinueOnError)
	n := fs.IntP("bytes", "n", defaultSecretBytesLen, "Secret length in bytes")
	format := fs.StringP("format", "f", "hex", "Output format (hex, base64url)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *n < 16 {
		return fmt.Errorf("secret of %d bytes is too short", *n)
	}

	var encode func([]byte) string
	switch *format {
	case "hex":
		encode = hex.EncodeToString
	case "base64url":
		encode = base64.RawURLEncoding.EncodeToString
	default:
		return fmt.Errorf("unknown format %q", *format)
	}

	b := make([]byte, *n)
	if _, err := random(b); err != nil {
		return err
	}

	_, err := fmt.Fprintln(w, encode(b))
	return err
}
