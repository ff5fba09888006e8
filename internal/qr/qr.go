package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/skip2/go-qrcode"
)

// Generator produces the check-in poster QR for an event: an encrypted
// token that the check-in page validates before opening the attendee
// list for scanning.
type Generator struct {
	secret []byte
}

func NewGenerator(secret string) *Generator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &Generator{secret: hashed[:]}
}

type checkInToken struct {
	EventID  string    `json:"event_id"`
	IssuedAt time.Time `json:"issued_at"`
}

// GenerateCheckInQR encodes an encrypted check-in URL for the event.
func (g *Generator) GenerateCheckInQR(baseURL, eventID string) ([]byte, error) {
	token := checkInToken{EventID: eventID, IssuedAt: time.Now().UTC()}
	data, err := json.Marshal(token)
	if err != nil {
		return nil, err
	}

	encrypted, err := encryptAES(data, g.secret)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/checkin?token=%s", baseURL, encrypted)
	return qrcode.Encode(url, qrcode.Medium, 256)
}

// DecodeToken decrypts a token produced by GenerateCheckInQR and
// returns the event id it grants access to.
func (g *Generator) DecodeToken(encoded string) (string, error) {
	plaintext, err := decryptAES(encoded, g.secret)
	if err != nil {
		return "", err
	}
	var token checkInToken
	if err := json.Unmarshal(plaintext, &token); err != nil {
		return "", err
	}
	return token.EventID, nil
}

func encryptAES(data []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]

	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

func decryptAES(encoded string, key []byte) ([]byte, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aes.BlockSize {
		return nil, fmt.Errorf("token too short")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv := ciphertext[:aes.BlockSize]
	payload := ciphertext[aes.BlockSize:]

	stream := cipher.NewCFBDecrypter(block, iv)
	plaintext := make([]byte, len(payload))
	stream.XORKeyStream(plaintext, payload)
	return plaintext, nil
}
