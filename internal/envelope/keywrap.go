// keywrap.go — режимы передачи симметричного ключа получателю.
//
//   - plaintext (симуляция, НЕБЕЗОПАСНО): ключ хранится в Record Service открытым,
//     "ключевая пара" пользователя — случайная строка из 32 символов.
//   - sealed: ключ запечатывается X25519 sealed box на публичный ключ пациента,
//     открыть его может только владелец приватного ключа.

package envelope

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// Режимы обёртки ключа (GW_KEY_WRAP_MODE).
const (
	ModePlaintext = "plaintext"
	ModeSealed    = "sealed"
)

// placeholderKeyLen — длина ключа-заглушки в режиме plaintext.
const placeholderKeyLen = 32

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// KeyWrapper — способ передачи симметричного ключа получателю.
type KeyWrapper interface {
	// Mode возвращает имя режима (plaintext, sealed).
	Mode() string
	// RequiresRecipientKey — нужен ли публичный ключ пациента для Wrap
	// и приватный ключ для Unwrap.
	RequiresRecipientKey() bool
	// GenerateKeyPair создаёт ключевую пару нового пользователя.
	GenerateKeyPair() (publicKey, privateKey string, err error)
	// Wrap упаковывает ключ для получателя.
	Wrap(key Key, recipientPublicKey string) (string, error)
	// Unwrap восстанавливает ключ из упакованного вида.
	Unwrap(wrapped, recipientPrivateKey string) (Key, error)
}

// NewKeyWrapper возвращает реализацию по имени режима.
func NewKeyWrapper(mode string) (KeyWrapper, error) {
	switch mode {
	case ModePlaintext:
		return PlaintextWrapper{}, nil
	case ModeSealed:
		return SealedBoxWrapper{}, nil
	default:
		return nil, fmt.Errorf("неизвестный режим обёртки ключа %q, допустимые: %s, %s", mode, ModePlaintext, ModeSealed)
	}
}

// --- plaintext ---

// PlaintextWrapper — режим симуляции: ключ НЕ шифруется и хранится
// в Record Service как есть. Конфиденциальность end-to-end не обеспечивается.
type PlaintextWrapper struct{}

// Mode возвращает ModePlaintext.
func (PlaintextWrapper) Mode() string { return ModePlaintext }

// RequiresRecipientKey — в режиме симуляции ключи получателя не используются.
func (PlaintextWrapper) RequiresRecipientKey() bool { return false }

// GenerateKeyPair возвращает одну и ту же случайную строку как публичный
// и приватный ключ. Это заглушка, а не криптографическая пара.
func (PlaintextWrapper) GenerateKeyPair() (string, string, error) {
	s, err := randomAlphanumeric(placeholderKeyLen)
	if err != nil {
		return "", "", err
	}
	return s, s, nil
}

// Wrap возвращает токен ключа без шифрования.
func (PlaintextWrapper) Wrap(key Key, _ string) (string, error) {
	return key.String(), nil
}

// Unwrap разбирает токен ключа.
func (PlaintextWrapper) Unwrap(wrapped, _ string) (Key, error) {
	return ParseKey(wrapped)
}

// --- sealed ---

// SealedBoxWrapper — ключ запечатывается анонимным NaCl sealed box
// (X25519 + XSalsa20-Poly1305) на публичный ключ пациента.
// Ключи передаются в base64 (StdEncoding).
type SealedBoxWrapper struct{}

// Mode возвращает ModeSealed.
func (SealedBoxWrapper) Mode() string { return ModeSealed }

// RequiresRecipientKey — для sealed box нужны ключи получателя.
func (SealedBoxWrapper) RequiresRecipientKey() bool { return true }

// GenerateKeyPair создаёт X25519 ключевую пару.
func (SealedBoxWrapper) GenerateKeyPair() (string, string, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("генерация X25519 пары: %w", err)
	}
	return base64.StdEncoding.EncodeToString(pub[:]), base64.StdEncoding.EncodeToString(priv[:]), nil
}

// Wrap запечатывает ключ на публичный ключ получателя.
func (SealedBoxWrapper) Wrap(key Key, recipientPublicKey string) (string, error) {
	pub, err := decodeKey32(recipientPublicKey)
	if err != nil {
		return "", fmt.Errorf("публичный ключ получателя: %w", err)
	}
	sealed, err := box.SealAnonymous(nil, key[:], pub, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("запечатывание ключа: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Unwrap открывает sealed box приватным ключом получателя.
// Публичный ключ выводится из приватного (X25519 базовая точка).
func (SealedBoxWrapper) Unwrap(wrapped, recipientPrivateKey string) (Key, error) {
	var k Key

	priv, err := decodeKey32(recipientPrivateKey)
	if err != nil {
		return k, fmt.Errorf("%w: приватный ключ: %w", ErrDecryption, err)
	}
	pubBytes, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return k, fmt.Errorf("%w: вычисление публичного ключа: %w", ErrDecryption, err)
	}
	var pub [32]byte
	copy(pub[:], pubBytes)

	sealed, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return k, fmt.Errorf("%w: некорректный обёрнутый ключ", ErrDecryption)
	}
	raw, ok := box.OpenAnonymous(nil, sealed, &pub, priv)
	if !ok || len(raw) != KeySize {
		return k, ErrDecryption
	}
	copy(k[:], raw)
	return k, nil
}

// decodeKey32 декодирует base64-строку в 32-байтовый ключ.
func decodeKey32(s string) (*[32]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.New("некорректный base64")
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("длина %d, ожидалось 32", len(raw))
	}
	var out [32]byte
	copy(out[:], raw)
	return &out, nil
}

// randomAlphanumeric возвращает криптографически случайную строку [a-zA-Z0-9].
func randomAlphanumeric(n int) (string, error) {
	limit := big.NewInt(int64(len(alphanumeric)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("генерация случайной строки: %w", err)
		}
		buf[i] = alphanumeric[idx.Int64()]
	}
	return string(buf), nil
}
