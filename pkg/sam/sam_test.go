package sam

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gregLibert/brizzi-terminal/pkg/codec"
	"github.com/gregLibert/brizzi-terminal/pkg/iso7816"
	"github.com/gregLibert/brizzi-terminal/pkg/iso7816/iso7816test"
	"github.com/gregLibert/brizzi-terminal/pkg/tlv"
)

const samKey = "00112233445566778899AABBCCDDEEFF"

func newSession(card *iso7816test.Card) *Session {
	return NewSession(iso7816.NewPort(card, nil))
}

func TestSelect(t *testing.T) {
	card := iso7816test.NewCard().On("00A4040C09A00000000000000011", "9000")
	require.NoError(t, newSession(card).Select())
	require.Equal(t, []string{"00A4040C09A00000000000000011"}, card.Sent())

	card = iso7816test.NewCard().On("00A4", "6A82")
	err := newSession(card).Select()
	require.ErrorIs(t, err, iso7816.ErrProtocolRejection)
}

func TestAuthenticateKey(t *testing.T) {
	card := iso7816test.NewCard().
		On("80B0000020", "6112").
		On("00C0", "AAAA", samKey, "9000")

	key, err := newSession(card).AuthenticateKey(
		tlv.Hex("0001020304050607"), tlv.Hex("0405060708"), tlv.Hex("AABBCC"))
	require.NoError(t, err)
	require.Equal(t, tlv.Hex(samKey), key)

	sent := card.Sent()
	require.Len(t, sent, 2)
	require.Equal(t, "00C0000012", sent[1], "continuation must carry the announced length")
}

func TestAuthenticateKeyFailures(t *testing.T) {
	tests := []struct {
		name string
		card *iso7816test.Card
		want error
	}{
		{
			name: "Rejected Without Continuation",
			card: iso7816test.NewCard().On("80B0", "6982"),
			want: iso7816.ErrProtocolRejection,
		},
		{
			name: "Continuation Rejected",
			card: iso7816test.NewCard().On("80B0", "6110").On("00C0", "6F00"),
			want: iso7816.ErrProtocolRejection,
		},
		{
			name: "Short Key",
			card: iso7816test.NewCard().On("80B0", "6104").On("00C0", "01020304", "9000"),
			want: iso7816.ErrMalformedResponse,
		},
		{
			name: "Link Lost",
			card: iso7816test.NewCard().Fail("80B0", errors.New("reader removed")),
			want: iso7816.ErrTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newSession(tt.card).AuthenticateKey(
				tlv.Hex("0001020304050607"), tlv.Hex("0405060708"), tlv.Hex("AABBCC"))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAuthenticateKeyNoContinuationOnRejection(t *testing.T) {
	card := iso7816test.NewCard().On("80B0", "6982")
	_, err := newSession(card).AuthenticateKey(nil, nil, nil)
	require.Error(t, err)
	require.Zero(t, card.Count("00C0"))
}

func TestCreateHash(t *testing.T) {
	card := iso7816test.NewCard().
		On("80B4000058", "6108").
		On("00C0", "0102030405060708", "9000")

	hash, err := newSession(card).CreateHash(codec.HashFields{
		CardNumber:  tlv.Hex("0001020304050607"),
		UID:         tlv.Hex("0405060708"),
		CardRandom:  tlv.Hex("11223344556677889900"),
		Amount:      1,
		At:          time.Date(2024, time.March, 7, 9, 5, 1, 0, time.UTC),
		ProcCode:    "808000",
		RefNumber:   "1",
		BatchNumber: "1",
	})
	require.NoError(t, err)
	require.Equal(t, tlv.Hex("0102030405060708"), hash)
	require.Len(t, card.Sent()[0], 2*codec.CreateHashTemplate.Width())
}

func TestCreateHashEmptyContinuation(t *testing.T) {
	card := iso7816test.NewCard().On("80B4", "6100").On("00C0", "9000")

	_, err := newSession(card).CreateHash(codec.HashFields{At: time.Now()})
	require.ErrorIs(t, err, iso7816.ErrMalformedResponse)
	require.Equal(t, "00C0000000", card.Sent()[1])
}
