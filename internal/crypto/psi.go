package crypto

import (
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // protocol-mandated hash, spec §4.1
	"math/big"

	"github.com/murmur/murmur-core/internal/murmurerr"
)

// PSIClient holds one side's state across a PSI-Ca exchange (spec §4.1).
// It is single-use: a fresh PSIClient is constructed per exchange round.
type PSIClient struct {
	x     *big.Int // blinding exponent
	items [][]byte // our own blinded items, needed to answer a peer's reply
}

// NewPSIClient samples an ephemeral scalar uniformly in [2, q-1] and
// derives the blinding exponent x = g^rand mod p (spec §4.1 step 2),
// then prepares to blind a set of opaque byte strings.
func NewPSIClient() (*PSIClient, error) {
	rnd, err := randomExponent()
	if err != nil {
		return nil, murmurerr.Wrap(murmurerr.CryptoError, "crypto.NewPSIClient", err)
	}
	x := new(big.Int).Exp(groupG, rnd, groupP)
	return &PSIClient{x: x}, nil
}

// randomExponent samples uniformly from [2, q-1], rejecting 0 and 1 as
// required by spec §4.1 step 1.
func randomExponent() (*big.Int, error) {
	qMinus2 := new(big.Int).Sub(groupQ, big.NewInt(2))
	for {
		n, err := rand.Int(rand.Reader, qMinus2)
		if err != nil {
			return nil, err
		}
		x := n.Add(n, big.NewInt(2)) // shift into [2, q-1]
		if x.Sign() > 0 && x.Cmp(big.NewInt(1)) != 0 {
			return x, nil
		}
	}
}

// Blind computes, for each v in items, blinded = (g^SHA1(canonical(v)))^x
// mod p (spec §4.1 steps 2-3), then shuffles the result with a
// cryptographically secure permutation (step 4). Items longer than
// CanonicalSize are re-canonicalized rather than rejected.
func (c *PSIClient) Blind(items [][]byte) ([][]byte, error) {
	if len(items) == 0 {
		return nil, murmurerr.New(murmurerr.InvalidInput, "crypto.Blind", "empty item set")
	}
	blinded := make([][]byte, len(items))
	for i, v := range items {
		canon := Canonical(v)
		h := hashToGroup(canon)
		m := new(big.Int).Exp(groupG, h, groupP)
		b := new(big.Int).Exp(m, c.x, groupP)
		blinded[i] = Canonical(b.Bytes())
	}
	c.items = blinded
	return shuffle(blinded)
}

// hashToGroup computes SHA1(canonical bytes) as a positive big integer,
// the exponent used to map an opaque value into the DH group.
func hashToGroup(canon []byte) *big.Int {
	sum := sha1.Sum(canon)
	return new(big.Int).SetBytes(sum[:])
}

// ServerReply is the responder's answer to a peer's blinded set
// (spec §4.1 "Server reply"): the double-blind of the peer's items, plus
// self-hashes of our own blinded items.
type ServerReply struct {
	DoubleBlind [][]byte // b^x mod p for each peer blinded item b, shuffled
	SelfHashes  [][]byte // SHA1(canonical(blinded_i)) for our own blinded items
}

// Reply double-blinds the peer's blinded items and hashes our own
// already-blinded items, as the responder side of the protocol.
func (c *PSIClient) Reply(peerBlinded [][]byte) (*ServerReply, error) {
	if len(peerBlinded) == 0 {
		return nil, murmurerr.New(murmurerr.InvalidInput, "crypto.Reply", "empty peer blinded set")
	}
	dblind := make([][]byte, len(peerBlinded))
	for i, b := range peerBlinded {
		bi := new(big.Int).SetBytes(stripSign(Canonical(b)))
		if bi.Sign() < 0 || bi.Cmp(groupP) >= 0 {
			return nil, murmurerr.New(murmurerr.InvalidInput, "crypto.Reply", "blinded value out of range")
		}
		r := new(big.Int).Exp(bi, c.x, groupP)
		dblind[i] = Canonical(r.Bytes())
	}
	shuffledBlind, err := shuffle(dblind)
	if err != nil {
		return nil, murmurerr.Wrap(murmurerr.CryptoError, "crypto.Reply", err)
	}

	selfHashes := make([][]byte, len(c.items))
	for i, own := range c.items {
		sum := sha1.Sum(Canonical(own))
		selfHashes[i] = sum[:]
	}
	return &ServerReply{DoubleBlind: shuffledBlind, SelfHashes: selfHashes}, nil
}

// Cardinality computes an upper bound of |A∩B| from the peer's reply to
// our own blinded set (spec §4.1 "Cardinality"). It never returns a
// silent zero on malformed input; it returns an InvalidInput error.
func (c *PSIClient) Cardinality(reply *ServerReply) (int, error) {
	if reply == nil || len(reply.DoubleBlind) == 0 || len(reply.SelfHashes) == 0 {
		return 0, murmurerr.New(murmurerr.InvalidInput, "crypto.Cardinality", "empty reply arrays")
	}
	xInv := new(big.Int).ModInverse(c.x, groupQ)
	if xInv == nil {
		return 0, murmurerr.New(murmurerr.CryptoError, "crypto.Cardinality", "blinding exponent not invertible mod q")
	}
	hashSet := make(map[string]struct{}, len(reply.SelfHashes))
	for _, h := range reply.SelfHashes {
		hashSet[string(h)] = struct{}{}
	}
	count := 0
	for _, b := range reply.DoubleBlind {
		bi := new(big.Int).SetBytes(stripSign(Canonical(b)))
		if bi.Sign() < 0 || bi.Cmp(groupP) >= 0 {
			return 0, murmurerr.New(murmurerr.InvalidInput, "crypto.Cardinality", "double-blind value out of range")
		}
		u := new(big.Int).Exp(bi, xInv, groupP)
		sum := sha1.Sum(Canonical(u.Bytes()))
		if _, ok := hashSet[string(sum[:])]; ok {
			count++
		}
	}
	return count, nil
}

// shuffle performs a Fisher-Yates shuffle using crypto/rand, per spec
// §4.1 step 4 ("cryptographically secure RNG").
func shuffle(items [][]byte) ([][]byte, error) {
	out := make([][]byte, len(items))
	copy(out, items)
	for i := len(out) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return nil, err
		}
		j := int(jBig.Int64())
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
