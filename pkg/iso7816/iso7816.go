/*
Package iso7816 is the transport layer of the terminal: command and response APDUs, status words,
and the Port that routes raw commands to one of the two secure endpoints (SAM or PICC).

# Fundamentals

The communication with a smart card is strictly synchronous:
 1. The Host sends a Command APDU (Header + Optional Body).
 2. The Card processes it and returns a Response APDU (Optional Body + Trailer SW1/SW2).

Status words are data, not errors. The Port only fails on connection-level problems
(ErrTransport) or on replies too short to carry a status word (ErrMalformedResponse).

# Response Continuation

A '61 XX' status means XX more bytes are waiting on the card. Unlike a generic ISO client, the Port
never issues GET RESPONSE on its own: the continuation length is protocol data that the SAM
handshake reads explicitly through Port.Continue.

	resp, err := port.Transmit(iso7816.SAM, cmd)
	if err != nil {
	    return err
	}
	if resp.Status.HasMoreData() {
	    resp, err = port.Continue(iso7816.SAM, resp.Status.SW2())
	}

# Traces

Every exchange is appended to the Port's Trace, so a whole debit transaction can be replayed or
logged after the fact.
*/
package iso7816
