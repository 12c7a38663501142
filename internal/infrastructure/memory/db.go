package memory

import (
	"sync"

	"github.com/ecolens-api/internal/domain"
)

type otpKey struct {
	userID  string
	purpose domain.OTPPurpose
}

// DB is a process-local store shared by UserRepo and OTPRepo. One mutex
// guards all maps so multi-entity writes are atomic.
type DB struct {
	mu     sync.Mutex
	users  map[string]domain.User
	emails map[string]string // email -> user_id
	otps   map[otpKey]domain.OneTimeCode
}

func NewDB() *DB {
	return &DB{
		users:  map[string]domain.User{},
		emails: map[string]string{},
		otps:   map[otpKey]domain.OneTimeCode{},
	}
}
