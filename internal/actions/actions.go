// Package actions encodes booking requests into opaque, signed, expiring
// tokens carried by interactive notification buttons.
package actions

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/example/court-sniper/internal/domain/booking"
)

const tokenName = "book_slot"

var ErrInvalidToken = errors.New("invalid action token")

type Codec struct {
	sc  *securecookie.SecureCookie
	loc *time.Location
}

type payload struct {
	Date  string `json:"d"`
	Court string `json:"c"`
	Hour  int    `json:"h"`
	V     int    `json:"v"`
}

// NewCodec signs with hashKey and encrypts with blockKey. Tokens older than
// ttl are rejected. Dates are interpreted in loc.
func NewCodec(hashKey, blockKey []byte, ttl time.Duration, loc *time.Location) *Codec {
	sc := securecookie.New(hashKey, blockKey)
	sc.SetSerializer(securecookie.JSONEncoder{})
	sc.MaxAge(int(ttl.Seconds()))
	sc.MaxLength(2000)
	if loc == nil {
		loc = time.UTC
	}
	return &Codec{sc: sc, loc: loc}
}

func (c *Codec) Encode(req booking.BookRequest) (string, error) {
	if req.Court == "" || req.Hour < 0 || req.Hour > 23 || req.Date.IsZero() {
		return "", fmt.Errorf("incomplete book request %+v", req)
	}
	return c.sc.Encode(tokenName, payload{
		Date:  booking.FormatDate(req.Date.In(c.loc)),
		Court: req.Court,
		Hour:  req.Hour,
		V:     1,
	})
}

func (c *Codec) Decode(token string) (booking.BookRequest, error) {
	var p payload
	if err := c.sc.Decode(tokenName, token, &p); err != nil {
		return booking.BookRequest{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	date, err := booking.ParseDate(p.Date, c.loc)
	if err != nil || p.Court == "" || p.Hour < 0 || p.Hour > 23 {
		return booking.BookRequest{}, fmt.Errorf("%w: malformed payload", ErrInvalidToken)
	}
	return booking.BookRequest{Date: date, Court: p.Court, Hour: p.Hour}, nil
}
