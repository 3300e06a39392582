package embertls

import (
	"bytes"
	"crypto/hmac"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/embertls/embertls/internal/alert"
	"github.com/embertls/embertls/internal/extension"
	"github.com/embertls/embertls/internal/handshake"
	"github.com/embertls/embertls/internal/keys"
	"github.com/embertls/embertls/internal/suite"
)

// serverKeyShareGroups is the preference order for the (EC)DHE exchange.
var serverKeyShareGroups = []extension.NamedGroup{
	extension.X25519,
	extension.Secp256r1,
	extension.Secp384r1,
}

// serverHandshake drives the server state machine:
//
//	START → WAIT_CH → NEGOTIATED → WAIT_FLIGHT2 → WAIT_FINISHED → CONNECTED
//
// emitting at most one HelloRetryRequest from WAIT_CH.
func (c *Conn) serverHandshake() error {
	cfg := c.config
	if !cfg.Certificate.isSet() && len(cfg.PSKs) == 0 && cfg.TicketStore == nil {
		return errors.New("tls: server config has neither certificate nor PSKs")
	}

	// WAIT_CH
	ch, chRaw, err := c.readClientHello()
	if err != nil {
		return err
	}
	cs, err := c.selectSuite(ch)
	if err != nil {
		return err
	}
	c.cs = cs
	c.transcript = handshake.NewTranscript(cs.Hash)

	share, ok := pickKeyShare(ch)
	if !ok {
		ch, chRaw, share, err = c.helloRetry(ch, chRaw)
		if err != nil {
			return err
		}
	}

	selPsk, pskKey, err := c.selectPsk(ch, chRaw)
	if err != nil {
		return err
	}

	c.transcript.Update(chRaw)

	// NEGOTIATED: ServerHello goes out in the clear.
	kx, err := c.provider.NewKeyExchange(share.Group)
	if err != nil {
		return err
	}
	shared, err := kx.SharedSecret(share.KeyExchange)
	if err != nil {
		return alert.Fatal(alert.IllegalParameter)
	}
	shParams := handshake.ServerHelloParams{
		SessionIDEcho: ch.SessionID,
		Suite:         cs.ID,
		KeyShare:      extension.KeyShareEntry{Group: kx.Group(), KeyExchange: kx.PublicBytes()},
		SelectedPsk:   selPsk,
	}
	if err := c.provider.FillRandom(shParams.Random[:]); err != nil {
		return err
	}
	if err := c.sendHandshake(shParams.Encode, nil); err != nil {
		return err
	}

	c.ks = keys.NewSchedule(cs)
	if pskKey != nil {
		if err := c.ks.InitEarly(pskKey); err != nil {
			return err
		}
		c.resumedWithPSK = true
	}
	if err := c.ks.ToHandshake(shared); err != nil {
		return err
	}
	cTraffic, sTraffic, err := c.ks.HandshakeTrafficSecrets(c.transcript.Sum())
	if err != nil {
		return err
	}
	if err := c.rekeyWrite(sTraffic); err != nil {
		return err
	}
	if err := c.rekeyRead(cTraffic); err != nil {
		return err
	}
	if c.hsResidue() != 0 {
		return alert.Fatal(alert.UnexpectedMessage)
	}

	// Server flight, under the handshake keys.
	_, hasSNI := extension.Find(ch.Extensions, extension.TypeServerName)
	ee := handshake.EncryptedExtensionsParams{AckServerName: hasSNI}
	if err := c.sendHandshake(ee.Encode, nil); err != nil {
		return err
	}

	certRequested := false
	if pskKey == nil {
		if cfg.RequestClientCert {
			req := handshake.CertificateRequestParams{Schemes: defaultSignatureSchemes}
			if err := c.sendHandshake(req.Encode, nil); err != nil {
				return err
			}
			certRequested = true
		}
		if err := c.sendServerCertificate(); err != nil {
			return err
		}
	}

	serverFin := handshake.Finished{VerifyData: c.ks.Write.VerifyData(c.transcript.Sum())}
	if err := c.sendHandshake(serverFin.Encode, nil); err != nil {
		return err
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
	// Our writes move to the application epoch now; reads stay on the
	// handshake keys until the client's Finished lands.
	if err := c.rekeyWrite(sApp); err != nil {
		return err
	}

	// WAIT_FLIGHT2
	if certRequested {
		if err := c.readClientCertificateFlight(); err != nil {
			return err
		}
	}

	// WAIT_FINISHED
	msg, err := c.nextMessage()
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
	if err := c.rekeyRead(cApp); err != nil {
		return err
	}
	if c.hsResidue() != 0 {
		return alert.Fatal(alert.UnexpectedMessage)
	}
	if c.resumptionMaster, err = c.ks.ResumptionMaster(c.transcript.Sum()); err != nil {
		return err
	}

	if cfg.SessionTickets && cfg.TicketStore != nil {
		if err := c.issueSessionTicket(); err != nil {
			return err
		}
	}
	log.Info("server handshake complete: %s", cs.ID)
	return nil
}

func (c *Conn) readClientHello() (*handshake.ClientHello, []byte, error) {
	raw, err := c.nextRawHandshake()
	if err != nil {
		return nil, nil, err
	}
	msg, err := handshake.ParseMessage(raw)
	if err != nil {
		return nil, nil, mapDecodeError(err)
	}
	ch, ok := msg.(*handshake.ClientHello)
	if !ok {
		return nil, nil, alert.Fatal(alert.UnexpectedMessage)
	}

	e, ok := extension.Find(ch.Extensions, extension.TypeSupportedVersions)
	if !ok {
		return nil, nil, alert.Fatal(alert.ProtocolVersion)
	}
	versions, ok := e.Body.(extension.SupportedVersionsList)
	if !ok || !versions.ContainsTLS13() {
		return nil, nil, alert.Fatal(alert.ProtocolVersion)
	}

	// The raw bytes feed the transcript after negotiation; they must
	// survive the next record read.
	return ch, append([]byte(nil), raw...), nil
}

func (c *Conn) selectSuite(ch *handshake.ClientHello) (*suite.Suite, error) {
	allowed := c.config.suites()
	var offered []suite.ID
	for _, id := range ch.CipherSuites() {
		for _, want := range allowed {
			if id == want {
				offered = append(offered, id)
			}
		}
	}
	if len(offered) == 0 {
		return nil, alert.Fatal(alert.HandshakeFailure)
	}
	cs, err := c.provider.SelectCipherSuite(offered)
	if err != nil || cs == nil {
		return nil, alert.Fatal(alert.HandshakeFailure)
	}
	return cs, nil
}

// pickKeyShare finds the client's key share for the most preferred group
// both sides support.
func pickKeyShare(ch *handshake.ClientHello) (extension.KeyShareEntry, bool) {
	e, ok := extension.Find(ch.Extensions, extension.TypeKeyShare)
	if !ok {
		return extension.KeyShareEntry{}, false
	}
	shares, ok := e.Body.(extension.KeyShareClientHello)
	if !ok {
		return extension.KeyShareEntry{}, false
	}
	for _, g := range serverKeyShareGroups {
		for entry := range shares.Entries.All() {
			if entry.Group == g && len(entry.KeyExchange) > 0 {
				return entry, true
			}
		}
	}
	return extension.KeyShareEntry{}, false
}

// helloRetry asks the client to redo its hello with a group we can use.
func (c *Conn) helloRetry(ch *handshake.ClientHello, chRaw []byte) (*handshake.ClientHello, []byte, extension.KeyShareEntry, error) {
	var none extension.KeyShareEntry

	retryGroup, ok := pickRetryGroup(ch)
	if !ok {
		return nil, nil, none, alert.Fatal(alert.HandshakeFailure)
	}

	// ClientHello1 enters the transcript in its synthetic hashed form.
	c.transcript.Update(chRaw)
	c.transcript.ReplaceWithMessageHash()

	hrr := handshake.ServerHelloParams{
		SessionIDEcho: ch.SessionID,
		Suite:         c.cs.ID,
		HelloRetry:    true,
		RetryGroup:    retryGroup,
		SelectedPsk:   -1,
	}
	if err := c.sendHandshake(hrr.Encode, nil); err != nil {
		return nil, nil, none, err
	}
	log.Debug("sent HelloRetryRequest for group %s", retryGroup)

	ch2, ch2Raw, err := c.readClientHello()
	if err != nil {
		return nil, nil, none, err
	}
	// The retried hello must keep the suite workable and supply the
	// requested share.
	cs2, err := c.selectSuite(ch2)
	if err != nil {
		return nil, nil, none, err
	}
	if cs2.ID != c.cs.ID {
		return nil, nil, none, alert.Fatal(alert.IllegalParameter)
	}
	share, ok := pickKeyShare(ch2)
	if !ok || share.Group != retryGroup {
		return nil, nil, none, alert.Fatal(alert.IllegalParameter)
	}
	return ch2, ch2Raw, share, nil
}

func pickRetryGroup(ch *handshake.ClientHello) (extension.NamedGroup, bool) {
	e, ok := extension.Find(ch.Extensions, extension.TypeSupportedGroups)
	if !ok {
		return 0, false
	}
	groups, ok := e.Body.(extension.SupportedGroupsList)
	if !ok {
		return 0, false
	}
	for _, g := range serverKeyShareGroups {
		for offered := range groups.Groups.All() {
			if offered == g {
				return g, true
			}
		}
	}
	return 0, false
}

// selectPsk matches the client's PSK offers against the configured
// external keys and the ticket store, verifying the chosen binder over
// the partial hello. Returns -1 when no offer is accepted.
func (c *Conn) selectPsk(ch *handshake.ClientHello, chRaw []byte) (int, []byte, error) {
	offer, ok := ch.PskOffer()
	if !ok {
		return -1, nil, nil
	}
	if e, ok := extension.Find(ch.Extensions, extension.TypePskKeyExchangeModes); ok {
		if modes, ok := e.Body.(extension.PskKeyExchangeModesList); !ok || !modes.Contains(extension.PskDheKe) {
			return -1, nil, nil
		}
	} else {
		// pre_shared_key without psk_key_exchange_modes is malformed.
		return -1, nil, alert.Fatal(alert.MissingExtension)
	}

	idx := -1
	var key []byte
	var external bool
	i := 0
	for id := range offer.Identities.All() {
		if k, ext, ok := c.lookupPsk(id.Identity); ok {
			idx, key, external = i, k, ext
			break
		}
		i++
	}
	if idx < 0 {
		return -1, nil, nil
	}

	// Binder check over the partial hello: everything before the binder
	// list, hashed in the transcript state the client used.
	suffix := 2
	var binders [][]byte
	for b := range offer.Binders.All() {
		suffix += 1 + len(b.B)
		binders = append(binders, b.B)
	}
	if suffix > len(chRaw) {
		return -1, nil, ErrDecodeError
	}
	partialHash := c.transcript.SumWith(chRaw[:len(chRaw)-suffix])
	bk := keys.BinderKeyFor(c.cs, key, external)
	expect := keys.FinishedMAC(c.cs, bk, partialHash)
	if !hmac.Equal(expect, binders[idx]) {
		log.Warn("PSK binder mismatch for offer %d", idx)
		return -1, nil, alert.Fatal(alert.DecryptError)
	}
	return idx, key, nil
}

func (c *Conn) lookupPsk(identity []byte) (key []byte, external, ok bool) {
	for _, p := range c.config.PSKs {
		if bytes.Equal(p.Identity, identity) {
			if s := suite.ByID(p.suiteID()); s == nil || s.Hash != c.cs.Hash {
				continue
			}
			return p.Key, true, true
		}
	}
	if store := c.config.TicketStore; store != nil {
		if sess := store.take(identity); sess != nil {
			if s := suite.ByID(sess.suiteID); s != nil && s.Hash == c.cs.Hash {
				return sess.psk, false, true
			}
		}
	}
	return nil, false, false
}

func (c *Conn) sendServerCertificate() error {
	chain := c.config.Certificate
	if !chain.isSet() {
		return alert.Fatal(alert.HandshakeFailure)
	}
	certParams := handshake.CertificateParams{Chain: chain.Chain}
	if err := c.sendHandshake(certParams.Encode, nil); err != nil {
		return err
	}

	scheme, err := schemeForSigner(chain.PrivateKey)
	if err != nil {
		return err
	}
	content := signatureMessage(serverSignatureContext, c.transcript.Sum())
	sig, err := c.provider.Sign(scheme, chain.PrivateKey, content)
	if err != nil {
		return err
	}
	cv := handshake.CertificateVerify{Scheme: scheme, Signature: sig}
	return c.sendHandshake(cv.Encode, nil)
}

// readClientCertificateFlight consumes the client's Certificate and, for
// a non-empty chain, its CertificateVerify.
func (c *Conn) readClientCertificateFlight() error {
	msg, err := c.nextMessage()
	if err != nil {
		return err
	}
	cert, ok := msg.(*handshake.Certificate)
	if !ok {
		return alert.Fatal(alert.UnexpectedMessage)
	}
	leaf, ok := cert.Leaf()
	if !ok {
		// The client declined; policy beyond "parse it" is the
		// caller's concern.
		log.Debug("client declined certificate request")
		return nil
	}
	c.peer, err = c.provider.ParseCertificate(leaf)
	if err != nil {
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
	content := signatureMessage(clientSignatureContext, cv.TranscriptBefore)
	if err := c.provider.VerifySignature(cv.Scheme, c.peer.PublicKey, content, cv.Signature); err != nil {
		return alert.Fatal(alert.DecryptError)
	}
	return nil
}

func (c *Conn) issueSessionTicket() error {
	ticket := make([]byte, 32)
	if err := c.provider.FillRandom(ticket); err != nil {
		return err
	}
	var ageAddBytes [4]byte
	if err := c.provider.FillRandom(ageAddBytes[:]); err != nil {
		return err
	}
	nonce := []byte{0}
	psk := keys.ResumptionPSK(c.cs, c.resumptionMaster, nonce)
	c.config.TicketStore.put(ticket, &serverSession{psk: psk, suiteID: c.cs.ID})

	nst := handshake.NewSessionTicket{
		Lifetime: 7200,
		AgeAdd:   binary.BigEndian.Uint32(ageAddBytes[:]),
		Nonce:    nonce,
		Ticket:   ticket,
	}
	log.Debug("issued session ticket")
	return c.sendPostHandshake(nst.Encode)
}
