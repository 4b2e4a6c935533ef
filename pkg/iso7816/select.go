package iso7816

// SELECT COMMAND LOGIC (ISO 7816-4):
// The SELECT command (INS 'A4') opens a file (MF, DF, or EF) or an application.
//
// P1 (Selection Method): how the file is targeted (by ID, by Name/AID, by Path...).
// P2 (Selection Control):
// - Bits 4-3: Response Type (FCI, FCP, FMD, or No Data).
// - Bits 2-1: Occurrence (First, Last, Next, Previous).
//
// The SAM applet is selected by DF name with "no response data", which yields the
// exact header 00 A4 04 0C the module firmware expects.

// SelectionMethod defines how the file is targeted (P1).
type SelectionMethod byte

const SelectByDFName SelectionMethod = 0x04 // Select by AID

// FileOccurrence defines which instance of the file to select (Bits 1-2 of P2).
type FileOccurrence byte

const FirstOrOnlyOccurrence FileOccurrence = 0b0000_00_00

// SelectionControl defines what data to return (Bits 3-4 of P2).
type SelectionControl byte

const (
	ReturnFCI    SelectionControl = 0b0000_00_00
	ReturnNoData SelectionControl = 0b0000_11_00
)

// ClaInterindustry is the plain first-interindustry class: channel 0, no secure messaging.
const ClaInterindustry byte = 0x00

// NewSelectCommand creates a generic SELECT command.
func NewSelectCommand(
	cla byte,
	method SelectionMethod,
	occurrence FileOccurrence,
	ctrl SelectionControl,
	data []byte,
) *CommandAPDU {
	p2 := byte(ctrl) | byte(occurrence)

	// T=0 compatibility: a command carrying data never carries Le as well.
	ne := 0
	if len(data) == 0 && ctrl != ReturnNoData {
		ne = MaxShortLe
	}

	return NewCommandAPDU(cla, mustInstruction(INS_SELECT), byte(method), p2, data, ne)
}

// SelectByAIDNoData selects an application by AID and asks for no response data.
func SelectByAIDNoData(cla byte, aid []byte) *CommandAPDU {
	return NewSelectCommand(cla, SelectByDFName, FirstOrOnlyOccurrence, ReturnNoData, aid)
}

// GetResponse builds the GET RESPONSE command that fetches the bytes announced by a '61 XX'
// status. ISO 7816-4 requires the same logical channel as the original command, so callers
// pass its class byte. A remaining count of 0 means 256.
func GetResponse(cla byte, remaining byte) *CommandAPDU {
	ne := int(remaining)
	if ne == 0 {
		ne = MaxShortLe
	}
	return NewCommandAPDU(cla, mustInstruction(INS_GET_RESPONSE), 0x00, 0x00, nil, ne)
}

// GetData builds GET DATA (INS 'CA') for the data object addressed by P1 P2. Under the
// PC/SC reader class 'FF' with P1 P2 '0000' the reader answers with the contactless UID.
func GetData(cla, p1, p2 byte, ne int) *CommandAPDU {
	return NewCommandAPDU(cla, mustInstruction(INS_GET_DATA), p1, p2, nil, ne)
}
