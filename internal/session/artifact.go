package session

import (
	"encoding/base64"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

// Artifact is the rendered scannable pairing code for a session awaiting
// authentication. It is present if and only if the session state is
// AwaitingScan.
type Artifact struct {
	// Code is the raw pairing payload as emitted by the client.
	Code string `json:"code"`
	// PNG is the rendered QR image; empty when rendering failed.
	PNG []byte `json:"-"`
	// DataURI is PNG as a data: URI, ready for an <img> tag.
	DataURI string `json:"image,omitempty"`

	IssuedAt time.Time `json:"issued_at"`
}

const artifactPixels = 256

// renderArtifact renders code into a QR PNG. Rendering failures are not
// fatal: the raw code still allows out-of-band pairing, so the artifact is
// returned with the image fields empty.
func renderArtifact(code string, now time.Time) *Artifact {
	a := &Artifact{Code: code, IssuedAt: now}
	png, err := qrcode.Encode(code, qrcode.Medium, artifactPixels)
	if err != nil {
		return a
	}
	a.PNG = png
	a.DataURI = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	return a
}
