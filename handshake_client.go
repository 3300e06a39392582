package embertls

import (
	"bytes"
	"crypto/hmac"

	"github.com/pkg/errors"

	"github.com/embertls/embertls/internal/alert"
	"github.com/embertls/embertls/internal/extension"
	"github.com/embertls/embertls/internal/handshake"
	"github.com/embertls/embertls/internal/keys"
	"github.com/embertls/embertls/internal/packet"
	"github.com/embertls/embertls/internal/record"
	"github.com/embertls/embertls/internal/suite"
)

// pskOffer is one pre-shared key the client puts on the wire.
type pskOffer struct {
	identity []byte
	key      []byte
	external bool
	obfAge   uint32
	suiteID  suite.ID
}

// clientHandshake drives the client state machine:
//
//	START → WAIT_SH → WAIT_EE → WAIT_CERT_CR → WAIT_CV → WAIT_FINISHED → CONNECTED
//
// with at most one HelloRetryRequest looping back into WAIT_SH.
func (c *Conn) clientHandshake() error {
	cfg := c.config

	offers, binderSuite, err := c.collectPskOffers()
	if err != nil {
		return err
	}

	kx, err := c.provider.NewKeyExchange(extension.X25519)
	if err != nil {
		return err
	}

	params := handshake.ClientHelloParams{
		CipherSuites:     cfg.suites(),
		ServerName:       cfg.ServerName,
		Groups:           []extension.NamedGroup{extension.X25519, extension.Secp256r1, extension.Secp384r1},
		SignatureSchemes: defaultSignatureSchemes,
	}
	if err := c.provider.FillRandom(params.Random[:]); err != nil {
		return err
	}
	sessionID := make([]byte, 32)
	if err := c.provider.FillRandom(sessionID); err != nil {
		return err
	}
	params.SessionID = sessionID
	params.KeyShares = []extension.KeyShareEntry{{Group: kx.Group(), KeyExchange: kx.PublicBytes()}}
	applyPskOffers(&params, offers, binderSuite)

	chBytes, err := c.sendClientHello(&params, offers, binderSuite)
	if err != nil {
		return err
	}
	log.Debug("sent ClientHello (%d bytes)", len(chBytes))

	// WAIT_SH
	rawSH, err := c.nextRawHandshake()
	if err != nil {
		return err
	}
	msg, err := handshake.ParseMessage(rawSH)
	if err != nil {
		return mapDecodeError(err)
	}
	sh, ok := msg.(*handshake.ServerHello)
	if !ok {
		return alert.Fatal(alert.UnexpectedMessage)
	}

	if sh.IsHelloRetry {
		chBytes, kx, err = c.retryClientHello(sh, rawSH, chBytes, &params, &offers, binderSuite)
		if err != nil {
			return err
		}
		rawSH, err = c.nextRawHandshake()
		if err != nil {
			return err
		}
		msg, err = handshake.ParseMessage(rawSH)
		if err != nil {
			return mapDecodeError(err)
		}
		sh, ok = msg.(*handshake.ServerHello)
		if !ok || sh.IsHelloRetry {
			// A second retry request is never legal.
			return alert.Fatal(alert.UnexpectedMessage)
		}
	}

	cs, err := c.checkServerHello(sh, &params)
	if err != nil {
		return err
	}
	if c.transcript == nil {
		c.transcript = handshake.NewTranscript(cs.Hash)
		c.transcript.Update(chBytes)
	} else if c.cs != nil && c.cs.ID != cs.ID {
		// A retry request pins the suite.
		return alert.Fatal(alert.IllegalParameter)
	}
	c.cs = cs
	c.transcript.Update(rawSH)

	// Key establishment.
	entry, ok := sh.KeyShare()
	if !ok {
		return alert.Fatal(alert.MissingExtension)
	}
	if entry.Group != kx.Group() {
		return alert.Fatal(alert.IllegalParameter)
	}
	shared, err := kx.SharedSecret(entry.KeyExchange)
	if err != nil {
		return alert.Fatal(alert.IllegalParameter)
	}

	var psk []byte
	if idx, ok := sh.SelectedPsk(); ok {
		if int(idx) >= len(offers) {
			return alert.Fatal(alert.IllegalParameter)
		}
		if binderSuite.Hash != cs.Hash {
			return alert.Fatal(alert.IllegalParameter)
		}
		psk = offers[idx].key
		c.resumedWithPSK = true
		log.Debug("server accepted PSK offer %d", idx)
	}

	c.ks = keys.NewSchedule(cs)
	if psk != nil {
		if err := c.ks.InitEarly(psk); err != nil {
			return err
		}
	}
	if err := c.ks.ToHandshake(shared); err != nil {
		return err
	}
	cTraffic, sTraffic, err := c.ks.HandshakeTrafficSecrets(c.transcript.Sum())
	if err != nil {
		return err
	}
	if err := c.rekeyRead(sTraffic); err != nil {
		return err
	}
	if err := c.rekeyWrite(cTraffic); err != nil {
		return err
	}
	if c.hsResidue() != 0 {
		// Nothing may straddle the protection change after ServerHello.
		return alert.Fatal(alert.UnexpectedMessage)
	}

	// WAIT_EE
	msg, err = c.nextMessage()
	if err != nil {
		return err
	}
	if _, ok := msg.(*handshake.EncryptedExtensions); !ok {
		return alert.Fatal(alert.UnexpectedMessage)
	}

	// WAIT_CERT_CR / WAIT_CV (skipped entirely on a PSK handshake)
	var certReq *handshake.CertificateRequest
	if psk == nil {
		msg, err = c.nextMessage()
		if err != nil {
			return err
		}
		if cr, ok := msg.(*handshake.CertificateRequest); ok {
			certReq = cr
			msg, err = c.nextMessage()
			if err != nil {
				return err
			}
		}
		cert, ok := msg.(*handshake.Certificate)
		if !ok {
			return alert.Fatal(alert.UnexpectedMessage)
		}
		leaf, ok := cert.Leaf()
		if !ok {
			return alert.Fatal(alert.BadCertificate)
		}
		c.peer, err = c.provider.ParseCertificate(leaf)
		if err != nil {
			log.Warn("server certificate rejected: %v", err)
			return alert.Fatal(alert.BadCertificate)
		}

		msg, err = c.nextMessage()
		if err != nil {
			return err
		}
		cv, ok := msg.(*handshake.CertificateVerify)
		if !ok {
			return alert.Fatal(alert.UnexpectedMessage)
		}
		content := signatureMessage(serverSignatureContext, cv.TranscriptBefore)
		if err := c.provider.VerifySignature(cv.Scheme, c.peer.PublicKey, content, cv.Signature); err != nil {
			log.Warn("server CertificateVerify rejected: %v", err)
			return alert.Fatal(alert.DecryptError)
		}
	}

	// WAIT_FINISHED
	msg, err = c.nextMessage()
	if err != nil {
		return err
	}
	fin, ok := msg.(*handshake.Finished)
	if !ok {
		return alert.Fatal(alert.UnexpectedMessage)
	}
	expected := c.ks.Read.VerifyData(fin.TranscriptBefore)
	if !hmac.Equal(expected, fin.VerifyData) {
		return alert.Fatal(alert.DecryptError)
	}

	serverFinishedHash := c.transcript.Sum()
	if err := c.ks.ToMaster(); err != nil {
		return err
	}
	cApp, sApp, err := c.ks.ApplicationTrafficSecrets(serverFinishedHash)
	if err != nil {
		return err
	}
	if c.exporterMaster, err = c.ks.ExporterMaster(serverFinishedHash); err != nil {
		return err
	}
	// The server moves to application keys right after its Finished.
	if err := c.rekeyRead(sApp); err != nil {
		return err
	}
	if c.hsResidue() != 0 {
		return alert.Fatal(alert.UnexpectedMessage)
	}

	// SEND_FIN: optional client auth, then our Finished, still under the
	// handshake write keys.
	if certReq != nil {
		if err := c.sendClientCertificate(certReq); err != nil {
			return err
		}
	}
	clientFin := handshake.Finished{VerifyData: c.ks.Write.VerifyData(c.transcript.Sum())}
	if err := c.sendHandshake(clientFin.Encode, nil); err != nil {
		return err
	}

	if c.resumptionMaster, err = c.ks.ResumptionMaster(c.transcript.Sum()); err != nil {
		return err
	}
	if err := c.rekeyWrite(cApp); err != nil {
		return err
	}
	log.Info("client handshake complete: %s", cs.ID)
	return nil
}

var defaultSignatureSchemes = []extension.SignatureScheme{
	extension.EcdsaSecp256r1Sha256,
	extension.EcdsaSecp384r1Sha384,
	extension.Ed25519,
	extension.RsaPssRsaeSha256,
}

// collectPskOffers gathers external PSKs and a cached resumption ticket.
// All offers must share one hash, which also fixes the binder hash.
func (c *Conn) collectPskOffers() ([]pskOffer, *suite.Suite, error) {
	var offers []pskOffer

	if cache := c.config.TicketCache; cache != nil && c.config.ServerName != "" {
		if t := cache.get(c.config.ServerName, c.config.now()); t != nil {
			offers = append(offers, pskOffer{
				identity: t.ticket,
				key:      t.psk,
				obfAge:   t.obfuscatedAge(c.config.now()),
				suiteID:  t.suiteID,
			})
		}
	}
	for _, p := range c.config.PSKs {
		offers = append(offers, pskOffer{
			identity: p.Identity,
			key:      p.Key,
			external: true,
			suiteID:  p.suiteID(),
		})
	}
	if len(offers) == 0 {
		return nil, nil, nil
	}

	s := suite.ByID(offers[0].suiteID)
	if s == nil {
		return nil, nil, errors.New("tls: PSK references unknown cipher suite")
	}
	for _, o := range offers[1:] {
		other := suite.ByID(o.suiteID)
		if other == nil || other.Hash != s.Hash {
			return nil, nil, errors.New("tls: configured PSKs must share one hash")
		}
	}
	return offers, s, nil
}

func applyPskOffers(params *handshake.ClientHelloParams, offers []pskOffer, binderSuite *suite.Suite) {
	if len(offers) == 0 {
		params.PskIdentities = nil
		params.PskModes = nil
		params.BinderLens = nil
		return
	}
	params.PskModes = []extension.PskKeyExchangeMode{extension.PskDheKe}
	params.PskIdentities = params.PskIdentities[:0]
	params.BinderLens = params.BinderLens[:0]
	for _, o := range offers {
		params.PskIdentities = append(params.PskIdentities, extension.PskIdentity{
			Identity:            o.identity,
			ObfuscatedTicketAge: o.obfAge,
		})
		params.BinderLens = append(params.BinderLens, binderSuite.Hash.Size())
	}
}

// sendClientHello encodes the hello, back-patches the PSK binders over
// the serialized prefix, feeds the finished form to the transcript when
// one exists, and sends it in the clear. It returns a copy of the wire
// form for deferred transcript construction.
func (c *Conn) sendClientHello(params *handshake.ClientHelloParams, offers []pskOffer, binderSuite *suite.Suite) ([]byte, error) {
	w := packet.NewWriter(c.writeBuf)
	if err := w.Advance(record.HeaderLen); err != nil {
		return nil, mapEncodeError(err)
	}
	if err := params.Encode(w); err != nil {
		return nil, mapEncodeError(err)
	}
	raw := w.Bytes()[record.HeaderLen:]

	if len(offers) > 0 {
		if err := c.patchBinders(raw, params, offers, binderSuite); err != nil {
			return nil, err
		}
	}

	chBytes := append([]byte(nil), raw...)
	if c.transcript != nil {
		c.transcript.Update(raw)
	}
	if err := c.out.Seal(w, record.TypeHandshake, 0); err != nil {
		return nil, mapEncodeError(err)
	}
	if _, err := c.transport.Write(w.Bytes()); err != nil {
		return nil, errors.Wrap(err, "tls: transport write")
	}
	return chBytes, nil
}

// patchBinders overwrites the zeroed binder placeholders at the tail of
// the serialized ClientHello. Each binder is the finished MAC of its PSK
// over the transcript of everything before the binder list.
func (c *Conn) patchBinders(raw []byte, params *handshake.ClientHelloParams, offers []pskOffer, binderSuite *suite.Suite) error {
	suffix := params.BinderSuffixLen()
	if suffix == 0 || suffix > len(raw) {
		return ErrEncodeError
	}
	prefix := raw[:len(raw)-suffix]

	var transcriptHash []byte
	if c.transcript != nil {
		transcriptHash = c.transcript.SumWith(prefix)
	} else {
		h := binderSuite.Hash.New()
		h.Write(prefix)
		transcriptHash = h.Sum(nil)
	}

	pos := len(raw) - suffix + 2 // past the binder list length
	for _, o := range offers {
		bk := keys.BinderKeyFor(binderSuite, o.key, o.external)
		binder := keys.FinishedMAC(binderSuite, bk, transcriptHash)
		if int(raw[pos]) != len(binder) {
			return ErrEncodeError
		}
		pos++
		copy(raw[pos:pos+len(binder)], binder)
		pos += len(binder)
	}
	return nil
}

// retryClientHello handles a HelloRetryRequest: rebuild the transcript
// in the synthetic message-hash form, regenerate the key share for the
// requested group, echo the cookie, and resend.
func (c *Conn) retryClientHello(
	hrr *handshake.ServerHello,
	rawHRR, chBytes []byte,
	params *handshake.ClientHelloParams,
	offers *[]pskOffer,
	binderSuite *suite.Suite,
) ([]byte, KeyExchange, error) {
	cs, err := c.checkServerHello(hrr, params)
	if err != nil {
		return nil, nil, err
	}
	c.cs = cs
	c.transcript = handshake.NewTranscript(cs.Hash)
	c.transcript.Update(chBytes)
	c.transcript.ReplaceWithMessageHash()
	c.transcript.Update(rawHRR)

	group, ok := hrr.RetryGroup()
	if !ok {
		return nil, nil, alert.Fatal(alert.MissingExtension)
	}
	offered := false
	for _, g := range params.Groups {
		offered = offered || g == group
	}
	// Retrying with the group we already shared is never legal.
	if !offered || group == params.KeyShares[0].Group {
		return nil, nil, alert.Fatal(alert.IllegalParameter)
	}
	kx, err := c.provider.NewKeyExchange(group)
	if err != nil {
		return nil, nil, alert.Fatal(alert.HandshakeFailure)
	}
	params.KeyShares = []extension.KeyShareEntry{{Group: group, KeyExchange: kx.PublicBytes()}}

	if cookie, ok := hrr.RetryCookie(); ok {
		params.Cookie = cookie
	}

	// A PSK can only survive the retry if its hash matches the suite the
	// server pinned.
	if binderSuite != nil && binderSuite.Hash != cs.Hash {
		*offers = nil
		applyPskOffers(params, nil, nil)
	}

	log.Debug("resending ClientHello for retry group %s", group)
	chBytes, err = c.sendClientHello(params, *offers, binderSuite)
	if err != nil {
		return nil, nil, err
	}
	return chBytes, kx, nil
}

// checkServerHello validates the fields shared by ServerHello and
// HelloRetryRequest against what we offered.
func (c *Conn) checkServerHello(sh *handshake.ServerHello, params *handshake.ClientHelloParams) (*suite.Suite, error) {
	if !bytes.Equal(sh.SessionIDEcho, params.SessionID) {
		return nil, alert.Fatal(alert.IllegalParameter)
	}
	v, ok := sh.SelectedVersion()
	if !ok {
		// No supported_versions response means the peer negotiated a
		// protocol below 1.3.
		return nil, alert.Fatal(alert.ProtocolVersion)
	}
	if v != extension.VersionTLS13 {
		return nil, alert.Fatal(alert.IllegalParameter)
	}
	cs := suite.ByID(sh.Suite)
	if cs == nil {
		return nil, ErrInvalidCipherSuite
	}
	offered := false
	for _, id := range params.CipherSuites {
		offered = offered || id == sh.Suite
	}
	if !offered {
		return nil, alert.Fatal(alert.IllegalParameter)
	}
	return cs, nil
}

// sendClientCertificate answers a CertificateRequest: the configured
// chain plus a proof of possession, or an empty list when we have
// nothing (or nothing the server accepts).
func (c *Conn) sendClientCertificate(req *handshake.CertificateRequest) error {
	chain := c.config.Certificate
	var scheme extension.SignatureScheme
	usable := chain.isSet()
	if usable {
		var err error
		scheme, err = schemeForSigner(chain.PrivateKey)
		if err != nil {
			usable = false
		} else if e, ok := extension.Find(req.Extensions, extension.TypeSignatureAlgorithms); ok {
			if algs, ok := e.Body.(extension.SignatureAlgorithmsList); ok && !algs.Contains(scheme) {
				usable = false
			}
		}
	}

	certParams := handshake.CertificateParams{Context: req.Context}
	if usable {
		certParams.Chain = chain.Chain
	}
	if err := c.sendHandshake(certParams.Encode, nil); err != nil {
		return err
	}
	if !usable {
		log.Debug("declining client certificate request")
		return nil
	}

	content := signatureMessage(clientSignatureContext, c.transcript.Sum())
	sig, err := c.provider.Sign(scheme, chain.PrivateKey, content)
	if err != nil {
		return err
	}
	cv := handshake.CertificateVerify{Scheme: scheme, Signature: sig}
	return c.sendHandshake(cv.Encode, nil)
}
