package cancellation

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/roomshare/internal"
)

var _ = Describe("Tickets", func() {
	var (
		now     time.Time
		tickets *Tickets
	)

	BeforeEach(func() {
		now = fixedNow
		tickets = NewTickets("0123456789abcdef0123456789abcdef", time.Hour).WithClock(func() time.Time { return now })
	})

	claims := TicketClaims{
		RoomID:    "room-1",
		Email:     "ada@example.com",
		PayerName: "Ada",
		RoomTitle: "Ensuite in Yaba",
		Role:      RolePayer,
	}

	It("round-trips the pinned fields", func() {
		raw, err := tickets.Issue(claims)
		Expect(err).NotTo(HaveOccurred())

		got, err := tickets.Parse(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.RoomID).To(Equal("room-1"))
		Expect(got.Email).To(Equal("ada@example.com"))
		Expect(got.PayerName).To(Equal("Ada"))
		Expect(got.RoomTitle).To(Equal("Ensuite in Yaba"))
		Expect(got.Role).To(Equal(RolePayer))
		Expect(got.ID).NotTo(BeEmpty())
	})

	It("rejects an expired ticket", func() {
		raw, err := tickets.Issue(claims)
		Expect(err).NotTo(HaveOccurred())

		now = now.Add(2 * time.Hour)
		_, err = tickets.Parse(raw)
		Expect(errors.Is(err, internal.ErrInvalidTicket)).To(BeTrue())
	})

	It("rejects a ticket signed with another secret", func() {
		other := NewTickets("ffffffffffffffffffffffffffffffff", time.Hour).WithClock(func() time.Time { return now })
		raw, err := other.Issue(claims)
		Expect(err).NotTo(HaveOccurred())

		_, err = tickets.Parse(raw)
		Expect(errors.Is(err, internal.ErrInvalidTicket)).To(BeTrue())
	})

	It("rejects a tampered ticket", func() {
		raw, err := tickets.Issue(claims)
		Expect(err).NotTo(HaveOccurred())

		tampered := raw[:len(raw)-2] + "xx"
		if tampered == raw {
			tampered = raw[:len(raw)-2] + "yy"
		}
		_, err = tickets.Parse(tampered)
		Expect(err).To(HaveOccurred())
	})

	It("rejects garbage", func() {
		_, err := tickets.Parse("not-a-ticket")
		Expect(errors.Is(err, internal.ErrInvalidTicket)).To(BeTrue())
	})
})
