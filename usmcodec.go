package snmp

import (
	"errors"

	"github.com/lukeod/async-snmp/pdu"
	"github.com/lukeod/async-snmp/usm"
)

// encodeV3Message builds a full v3 message carrying p, shared by the
// Client's outbound requests and the trap listener's inform
// acknowledgements. It follows the "encode twice" authentication
// strategy: assemble with authParams zero-filled, HMAC the whole
// message, then reassemble with the real digest, since the BER
// encoder is deterministic and a second marshal call is simpler than
// patching a byte offset inside the first one by hand.
func encodeV3Message(
	engine *usm.Engine, creds usm.Credentials, privKey []byte,
	contextEngineID []byte, contextName string,
	p pdu.Pdu, pduType pdu.Type, msgID int32,
) ([]byte, error) {
	engineID := engine.ID()
	boots, etime := engine.BootsTime()

	flags := pdu.FlagReportable
	if creds.AuthProto != usm.AuthNone {
		flags |= pdu.FlagAuth
	}
	if creds.PrivProto != usm.PrivNone {
		flags |= pdu.FlagPriv
	}

	plaintext, err := pdu.EncodeScopedPdu(contextEngineID, contextName, pduType, p)
	if err != nil {
		return nil, &BerError{Cause: asBerErr(err)}
	}

	secParams := pdu.UsmSecurityParameters{
		AuthEngineID:    engineID,
		AuthEngineBoots: int32(boots),
		AuthEngineTime:  int32(etime),
		UserName:        creds.UserName,
	}

	var plaintextScopedPdu, encryptedScopedPdu []byte
	if flags&pdu.FlagPriv != 0 {
		salt := engine.NextSalt()
		ct, err := usm.Encrypt(creds.PrivProto, privKey, uint32(boots), uint32(etime), salt, plaintext)
		if err != nil {
			return nil, &PrivacyError{Kind: DecryptFailure, Cause: err}
		}
		secParams.PrivParams = salt
		encryptedScopedPdu = ct
	} else {
		plaintextScopedPdu = plaintext
	}

	if flags&pdu.FlagAuth == 0 {
		secParamBytes, err := pdu.EncodeUsmSecurityParameters(secParams)
		if err != nil {
			return nil, &BerError{Cause: asBerErr(err)}
		}
		return pdu.AssembleV3Message(msgID, maxMsgSize, flags, secParamBytes, plaintextScopedPdu, encryptedScopedPdu)
	}

	secParams.AuthParams = make([]byte, creds.AuthProto.TruncatedLen())
	secParamBytes, err := pdu.EncodeUsmSecurityParameters(secParams)
	if err != nil {
		return nil, &BerError{Cause: asBerErr(err)}
	}
	unauthenticated, err := pdu.AssembleV3Message(msgID, maxMsgSize, flags, secParamBytes, plaintextScopedPdu, encryptedScopedPdu)
	if err != nil {
		return nil, &BerError{Cause: asBerErr(err)}
	}

	digest, err := usm.Authenticate(creds.AuthProto, creds.AuthPassword, engineID, unauthenticated)
	if err != nil {
		return nil, &AuthError{Kind: UnsupportedAuthProtocol, User: creds.UserName}
	}
	secParams.AuthParams = digest
	secParamBytes, err = pdu.EncodeUsmSecurityParameters(secParams)
	if err != nil {
		return nil, &BerError{Cause: asBerErr(err)}
	}
	return pdu.AssembleV3Message(msgID, maxMsgSize, flags, secParamBytes, plaintextScopedPdu, encryptedScopedPdu)
}

// decodeV3Message verifies and decrypts an inbound v3 message, shared
// by the Client's response path and the trap listener's inbound
// notification path. It mirrors encodeV3Message's strategy on the way
// in: the security parameters are reassembled with authParams zeroed,
// re-marshalled, and HMAC-verified, rather than patching the original
// datagram's byte offset by hand.
func decodeV3Message(engine *usm.Engine, creds usm.Credentials, privKey []byte, data []byte) (contextEngineID []byte, contextName string, pduType pdu.Type, p pdu.Pdu, err error) {
	hdr, err := pdu.DisassembleV3Message(data)
	if err != nil {
		return nil, "", 0, pdu.Pdu{}, &BerError{Cause: asBerErr(err)}
	}
	secParams, err := pdu.DecodeUsmSecurityParameters(hdr.SecurityParams)
	if err != nil {
		return nil, "", 0, pdu.Pdu{}, &BerError{Cause: asBerErr(err)}
	}

	if hdr.Flags&pdu.FlagAuth != 0 {
		zeroed := secParams
		zeroed.AuthParams = make([]byte, len(secParams.AuthParams))
		zeroedBytes, zerr := pdu.EncodeUsmSecurityParameters(zeroed)
		if zerr != nil {
			return nil, "", 0, pdu.Pdu{}, &BerError{Cause: asBerErr(zerr)}
		}

		var plainForReassembly, cipherForReassembly []byte
		if hdr.Encrypted {
			cipherForReassembly = hdr.ScopedPduOrCipher.Bytes
		} else {
			plainForReassembly = hdr.ScopedPduOrCipher.FullBytes
		}
		reassembled, rerr := pdu.AssembleV3Message(hdr.MsgID, hdr.MsgMaxSize, hdr.Flags, zeroedBytes, plainForReassembly, cipherForReassembly)
		if rerr != nil {
			return nil, "", 0, pdu.Pdu{}, &BerError{Cause: asBerErr(rerr)}
		}

		ok, verr := usm.Verify(creds.AuthProto, creds.AuthPassword, secParams.AuthEngineID, reassembled, secParams.AuthParams)
		if verr != nil {
			return nil, "", 0, pdu.Pdu{}, &AuthError{Kind: UnsupportedAuthProtocol, User: creds.UserName}
		}
		if !ok {
			return nil, "", 0, pdu.Pdu{}, &AuthError{Kind: MacMismatch, User: creds.UserName}
		}

		if terr := engine.CheckTimeliness(int64(secParams.AuthEngineBoots), int64(secParams.AuthEngineTime)); terr != nil {
			engine.Synchronize(int64(secParams.AuthEngineBoots), int64(secParams.AuthEngineTime))
			return nil, "", 0, pdu.Pdu{}, &EngineError{Kind: OutOfTimeWindow, Cause: terr}
		}
		engine.Synchronize(int64(secParams.AuthEngineBoots), int64(secParams.AuthEngineTime))
	}

	var scopedBytes []byte
	if hdr.Encrypted {
		scopedBytes, err = usm.Decrypt(creds.PrivProto, privKey, uint32(secParams.AuthEngineBoots), uint32(secParams.AuthEngineTime), secParams.PrivParams, hdr.ScopedPduOrCipher.Bytes)
		if err != nil {
			return nil, "", 0, pdu.Pdu{}, &PrivacyError{Kind: DecryptFailure, Cause: err}
		}
	} else {
		scopedBytes = hdr.ScopedPduOrCipher.FullBytes
	}

	contextEngineID, contextName, pduType, p, err = pdu.DecodeScopedPdu(scopedBytes)
	if err != nil {
		return nil, "", 0, pdu.Pdu{}, &BerError{Cause: asBerErr(err)}
	}
	if pduType == pdu.TypeReport {
		return nil, "", 0, pdu.Pdu{}, &EngineError{Kind: DiscoveryFailed, Cause: errors.New("snmp: agent returned a report instead of a response")}
	}
	return contextEngineID, contextName, pduType, p, nil
}
