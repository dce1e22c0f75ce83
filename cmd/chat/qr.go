package main

import (
	"fmt"
	"os"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// presentAuthURL prints a federated sign-in URL and its QR code, so the flow
// can be finished on a phone when no browser runs next to the terminal.
func presentAuthURL(authURL string) error {
	fmt.Fprintf(os.Stderr, "\n  Open this URL to sign in:\n\n  %s\n\n", authURL)
	qr, err := renderQR(authURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  (QR generation failed: %v)\n", err)
		return nil
	}
	fmt.Fprintf(os.Stderr, "%s\n  Waiting for the provider...\n", qr)
	return nil
}

// renderQR converts a string to a compact QR code using Unicode half-block
// characters. Two bitmap rows become one terminal line.
func renderQR(content string) (string, error) {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "", err
	}
	qr.DisableBorder = false

	bitmap := qr.Bitmap()
	rows := len(bitmap)
	cols := 0
	if rows > 0 {
		cols = len(bitmap[0])
	}

	var sb strings.Builder
	for y := 0; y < rows; y += 2 {
		sb.WriteString("  ")
		for x := 0; x < cols; x++ {
			top := bitmap[y][x] // true = black module
			bot := false
			if y+1 < rows {
				bot = bitmap[y+1][x]
			}
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String(), nil
}
