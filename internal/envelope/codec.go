// Пакет envelope — шифрование загружаемых файлов одноразовым симметричным ключом.
//
// Формат шифротекста: version(1) || nonce(24) || XChaCha20-Poly1305(plaintext).
// Ключ покидает пакет только через KeyWrapper (см. keywrap.go).
package envelope

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// formatVersion — текущая версия формата шифротекста.
const formatVersion byte = 1

// KeySize — размер симметричного ключа в байтах.
const KeySize = chacha20poly1305.KeySize

// ErrDecryption — ключ не подходит к шифротексту или шифротекст повреждён.
var ErrDecryption = errors.New("ошибка расшифровки: неверный ключ или повреждённые данные")

// Key — одноразовый симметричный ключ. Вне процесса передаётся как токен (String).
type Key [KeySize]byte

// String возвращает ключ в виде base64url-токена без паддинга.
func (k Key) String() string {
	return base64.RawURLEncoding.EncodeToString(k[:])
}

// ParseKey разбирает токен, полученный из Key.String.
func ParseKey(token string) (Key, error) {
	var k Key
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return k, fmt.Errorf("%w: некорректный токен ключа", ErrDecryption)
	}
	if len(raw) != KeySize {
		return k, fmt.Errorf("%w: длина ключа %d, ожидалось %d", ErrDecryption, len(raw), KeySize)
	}
	copy(k[:], raw)
	return k, nil
}

// NewKey генерирует равномерно случайный ключ.
func NewKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return k, fmt.Errorf("генерация ключа: %w", err)
	}
	return k, nil
}

// Seal шифрует plaintext новым ключом. Каждый вызов использует свежий ключ
// и случайный nonce, поэтому повторное шифрование одних данных даёт разный результат.
func Seal(plaintext []byte) (Key, []byte, error) {
	key, err := NewKey()
	if err != nil {
		return Key{}, nil, err
	}
	ciphertext, err := SealWithKey(key, plaintext)
	if err != nil {
		return Key{}, nil, err
	}
	return key, ciphertext, nil
}

// SealWithKey шифрует plaintext заданным ключом со случайным nonce.
func SealWithKey(key Key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("создание AEAD: %w", err)
	}

	out := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	out[0] = formatVersion
	nonce := out[1:]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("генерация nonce: %w", err)
	}

	return aead.Seal(out, nonce, plaintext, out[:1]), nil
}

// Open расшифровывает шифротекст, созданный Seal.
// Любое несоответствие ключа, версии или тега аутентификации — ErrDecryption.
func Open(key Key, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("создание AEAD: %w", err)
	}

	headerLen := 1 + aead.NonceSize()
	if len(ciphertext) < headerLen+aead.Overhead() {
		return nil, fmt.Errorf("%w: шифротекст слишком короткий", ErrDecryption)
	}
	if ciphertext[0] != formatVersion {
		return nil, fmt.Errorf("%w: неподдерживаемая версия формата %d", ErrDecryption, ciphertext[0])
	}

	nonce := ciphertext[1:headerLen]
	plaintext, err := aead.Open(nil, nonce, ciphertext[headerLen:], ciphertext[:1])
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}
