package codec

import (
	"strconv"
	"time"

	"github.com/gregLibert/brizzi-terminal/pkg/iso7816"
)

// SAMApplicationID is the DF name of the SAM debit applet.
var SAMApplicationID = []byte{0xA0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x11}

// samKeyContext sits between the card identity and the per-call material in SAM commands.
const samKeyContext = "FF0000030080000000"

// Card and SAM command layouts.
var (
	SelectAID1Template         = NewTemplate("select aid1", Literal("5A010000"))
	GetCardNumberTemplate      = NewTemplate("get card number", Literal("BD00000000170000"))
	GetCardStatusTemplate      = NewTemplate("get card status", Literal("BD01000000200000"))
	SelectAID3Template         = NewTemplate("select aid3", Literal("5A030000"))
	RequestKeyCardTemplate     = NewTemplate("request key card", Literal("0A00"))
	GetLastTransactionTemplate = NewTemplate("get last transaction", Literal("BD03000000070000"))
	GetBalanceTemplate         = NewTemplate("get balance", Literal("6C00"))
	CommitTemplate             = NewTemplate("commit", Literal("C7"))
	AbortTemplate              = NewTemplate("abort", Literal("A7"))

	SAMAuthenticateTemplate = NewTemplate("sam authenticate",
		Literal("80B0000020"),
		Hex("card_number", 8),
		Hex("uid", 7),
		Literal(samKeyContext),
		Hex("key_card", 8),
	)

	CardAuthenticateTemplate = NewTemplate("card authenticate",
		Literal("AF"),
		Hex("sam_random", 16),
	)

	DebitTemplate = NewTemplate("debit",
		Literal("DC00"),
		LE("amount", 3),
		Literal("00"),
	)

	CreateHashTemplate = NewTemplate("create hash",
		Literal("80B4000058"),
		Hex("card_number", 8),
		Hex("uid", 7),
		Literal(samKeyContext),
		Hex("card_random", 10),
		ASCII("amount", 12, '0', AlignRight),
		ASCII("date", 6, '0', AlignRight),
		ASCII("time", 6, '0', AlignRight),
		ASCII("proc_code", 6, '0', AlignRight),
		ASCII("ref_number", 12, '0', AlignRight),
		ASCII("batch_number", 12, ' ', AlignLeft),
	)

	WriteLogTemplate = NewTemplate("write log",
		Literal("3B01000000200000"),
		Hex("mid", 8),
		Hex("tid", 4),
		Hex("date", 3),
		Hex("time", 3),
		Literal("EB"),
		LE("amount", 3),
		LE("balance_before", 3),
		LE("balance_after", 3),
		Hex("ref_number", 4),
	)

	WriteLastTransactionTemplate = NewTemplate("write last transaction",
		Literal("3D03000000070000"),
		Hex("date", 3),
		LE("accumulated", 4),
	)
)

// MaxAmount is the largest debit that fits the 3-byte amount slot.
const MaxAmount = 1<<24 - 1

// SAMSelect selects the SAM debit applet without asking for FCI.
func SAMSelect() []byte {
	out, err := iso7816.SelectByAIDNoData(iso7816.ClaInterindustry, SAMApplicationID).Bytes()
	if err != nil {
		panic(err)
	}
	return out
}

// GetUID asks the PC/SC reader for the UID of the card in the field.
func GetUID() []byte {
	out, err := iso7816.GetData(0xFF, 0x00, 0x00, iso7816.MaxShortLe).Bytes()
	if err != nil {
		panic(err)
	}
	return out
}

func SelectAID1() []byte         { return SelectAID1Template.MustEncode() }
func GetCardNumber() []byte      { return GetCardNumberTemplate.MustEncode() }
func GetCardStatus() []byte      { return GetCardStatusTemplate.MustEncode() }
func SelectAID3() []byte         { return SelectAID3Template.MustEncode() }
func RequestKeyCard() []byte     { return RequestKeyCardTemplate.MustEncode() }
func GetLastTransaction() []byte { return GetLastTransactionTemplate.MustEncode() }
func GetBalance() []byte         { return GetBalanceTemplate.MustEncode() }
func Commit() []byte             { return CommitTemplate.MustEncode() }
func Abort() []byte              { return AbortTemplate.MustEncode() }

// SAMAuthenticate asks the SAM for the random key answering the card's challenge.
func SAMAuthenticate(cardNumber, uid, keyCard []byte) ([]byte, error) {
	return SAMAuthenticateTemplate.Encode(Values{
		"card_number": cardNumber,
		"uid":         uid,
		"key_card":    keyCard,
	})
}

// CardAuthenticate forwards the SAM random key to the card.
func CardAuthenticate(samRandom []byte) ([]byte, error) {
	return CardAuthenticateTemplate.Encode(Values{"sam_random": samRandom})
}

// Debit decrements the card value file by amount.
func Debit(amount uint32) ([]byte, error) {
	return DebitTemplate.Encode(Values{"amount": amount})
}

// HashFields is the material signed by the SAM for one debit.
type HashFields struct {
	CardNumber  []byte
	UID         []byte
	CardRandom  []byte
	Amount      uint32
	At          time.Time
	ProcCode    string
	RefNumber   string
	BatchNumber string
}

// CreateHash asks the SAM to sign the debit. The amount travels in hundredths.
func CreateHash(f HashFields) ([]byte, error) {
	return CreateHashTemplate.Encode(Values{
		"card_number":  f.CardNumber,
		"uid":          f.UID,
		"card_random":  f.CardRandom,
		"amount":       strconv.FormatUint(uint64(f.Amount)*100, 10),
		"date":         f.At.Format("020106"),
		"time":         f.At.Format("150405"),
		"proc_code":    f.ProcCode,
		"ref_number":   f.RefNumber,
		"batch_number": f.BatchNumber,
	})
}

// LogFields is one entry of the card transaction log.
type LogFields struct {
	MID           string
	TID           string
	At            time.Time
	Amount        uint32
	BalanceBefore uint32
	BalanceAfter  uint32
	RefNumber     string
}

// WriteLog appends an entry to the card transaction log.
func WriteLog(f LogFields) ([]byte, error) {
	return WriteLogTemplate.Encode(Values{
		"mid":            f.MID,
		"tid":            f.TID,
		"date":           f.At.Format("060102"),
		"time":           f.At.Format("150405"),
		"amount":         f.Amount,
		"balance_before": f.BalanceBefore,
		"balance_after":  f.BalanceAfter,
		"ref_number":     f.RefNumber,
	})
}

// WriteLastTransaction stores the debit date and the accumulated total for its month.
func WriteLastTransaction(d Date, accumulated uint32) ([]byte, error) {
	return WriteLastTransactionTemplate.Encode(Values{
		"date":        d.BCD(),
		"accumulated": accumulated,
	})
}
