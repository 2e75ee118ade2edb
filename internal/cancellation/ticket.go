package cancellation

import (
	"fmt"
	"time"

	"github.com/frahmantamala/roomshare/internal"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const ticketIssuer = "roomshare-cancellation"

// TicketClaims pins the read-only fields of the cancellation form.
type TicketClaims struct {
	RoomID    string `json:"room_id"`
	Email     string `json:"email"`
	PayerName string `json:"payer_name,omitempty"`
	RoomTitle string `json:"room_title,omitempty"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

type Tickets struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTickets(secret string, ttl time.Duration) *Tickets {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Tickets{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *Tickets) WithClock(now func() time.Time) *Tickets {
	t.now = now
	return t
}

func (t *Tickets) Issue(claims TicketClaims) (string, error) {
	now := t.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    ticketIssuer,
		Subject:   claims.Email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign cancellation ticket: %w", err)
	}
	return signed, nil
}

func (t *Tickets) Parse(raw string) (*TicketClaims, error) {
	claims := &TicketClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ticketIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internal.ErrInvalidTicket, err)
	}
	if claims.RoomID == "" || claims.Email == "" {
		return nil, internal.ErrInvalidTicket
	}
	return claims, nil
}
