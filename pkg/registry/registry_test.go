package registry

import (
	stdlog "log"
	"os"
	"testing"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watercompany/pingmesh/pkg/actor"
	"github.com/watercompany/pingmesh/pkg/cipher"
)

func TestMain(m *testing.M) {
	loggingLevel, ok := os.LookupEnv("TEST_LOGGING_LEVEL")
	if ok {
		lvl, err := logging.LevelFromString(loggingLevel)
		if err != nil {
			stdlog.Fatal(err)
		}
		logging.SetLevel(lvl)
	} else {
		logging.Disable()
	}

	os.Exit(m.Run())
}

func newKey(t *testing.T) cipher.PubKey {
	t.Helper()
	pk, _ := cipher.GenerateKeyPair()
	return pk
}

func TestRegisterLookup(t *testing.T) {
	r := New(newKey(t))
	ref := actor.SpawnPing()

	rec, err := r.Register(actor.RegisteredName, ref, actor.TypeName, actor.TypeID)
	require.NoError(t, err)
	assert.Equal(t, actor.RegisteredName, rec.Name)
	assert.Equal(t, r.Owner(), rec.Owner)
	assert.Equal(t, uint64(1), rec.Clock)

	got, ok := r.Lookup(actor.RegisteredName)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	lref, lrec, ok := r.LocalRef(actor.RegisteredName)
	require.True(t, ok)
	assert.Equal(t, ref, lref)
	assert.Equal(t, rec, lrec)
}

func TestRegisterValidation(t *testing.T) {
	r := New(newKey(t))
	ref := actor.SpawnPing()

	_, err := r.Register("", ref, actor.TypeName, actor.TypeID)
	assert.Equal(t, ErrInvalidName, err)

	_, err = r.Register("bad\nname", ref, actor.TypeName, actor.TypeID)
	assert.Equal(t, ErrInvalidName, err)
}

func TestRegisterNameTaken(t *testing.T) {
	r := New(newKey(t))
	first := actor.SpawnPing()
	second := actor.SpawnPing()

	_, err := r.Register("svc", first, actor.TypeName, actor.TypeID)
	require.NoError(t, err)

	_, err = r.Register("svc", second, actor.TypeName, actor.TypeID)
	assert.Equal(t, ErrNameTaken, err)

	// Re-registering the same endpoint is idempotent, with a fresh clock.
	rec, err := r.Register("svc", first, actor.TypeName, actor.TypeID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Clock)
}

func TestUnregister(t *testing.T) {
	r := New(newKey(t))
	ref := actor.SpawnPing()

	reg, err := r.Register("svc", ref, actor.TypeName, actor.TypeID)
	require.NoError(t, err)

	ret, ok := r.Unregister("svc")
	require.True(t, ok)
	assert.True(t, ret.Retracted)
	assert.True(t, ret.Supersedes(reg))

	_, ok = r.Lookup("svc")
	assert.False(t, ok)
	_, _, ok = r.LocalRef("svc")
	assert.False(t, ok)

	_, ok = r.Unregister("svc")
	assert.False(t, ok)
}

func TestRetractAll(t *testing.T) {
	r := New(newKey(t))
	_, err := r.Register("a", actor.SpawnPing(), actor.TypeName, actor.TypeID)
	require.NoError(t, err)
	_, err = r.Register("b", actor.SpawnPing(), actor.TypeName, actor.TypeID)
	require.NoError(t, err)

	recs := r.RetractAll()
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.True(t, rec.Retracted)
	}
	assert.Empty(t, liveNames(r))
}

func TestSupersedes(t *testing.T) {
	a := newKey(t)
	b := newKey(t)
	lo, hi := a, b
	if lo.Hex() > hi.Hex() {
		lo, hi = hi, lo
	}

	older := Record{Name: "svc", Owner: hi, Clock: 1}
	newer := Record{Name: "svc", Owner: lo, Clock: 2}
	assert.True(t, newer.Supersedes(older))
	assert.False(t, older.Supersedes(newer))

	// Equal clocks: the larger owner key wins, both ways.
	tied := Record{Name: "svc", Owner: hi, Clock: 2}
	assert.True(t, tied.Supersedes(newer))
	assert.False(t, newer.Supersedes(tied))
}

func TestMergeLastWriterWins(t *testing.T) {
	r := New(newKey(t))
	remote := newKey(t)

	rec := Record{Name: "svc", Owner: remote, ActorType: actor.TypeName, TypeID: actor.TypeID, Clock: 5}
	assert.True(t, r.Merge(rec))
	assert.False(t, r.Merge(rec), "idempotent merge must not report change")

	stale := rec
	stale.Clock = 3
	assert.False(t, r.Merge(stale))

	got, ok := r.Lookup("svc")
	require.True(t, ok)
	assert.Equal(t, uint64(5), got.Clock)

	fresher := rec
	fresher.Clock = 9
	fresher.Retracted = true
	assert.True(t, r.Merge(fresher))
	_, ok = r.Lookup("svc")
	assert.False(t, ok)
}

func TestMergeSupersedesLocalBinding(t *testing.T) {
	r := New(newKey(t))
	ref := actor.SpawnPing()

	local, err := r.Register("svc", ref, actor.TypeName, actor.TypeID)
	require.NoError(t, err)

	remote := Record{Name: "svc", Owner: newKey(t), ActorType: actor.TypeName, TypeID: actor.TypeID, Clock: local.Clock + 1}
	require.True(t, r.Merge(remote))

	// The remote record won; the local endpoint is no longer served.
	_, _, ok := r.LocalRef("svc")
	assert.False(t, ok)
	got, ok := r.Lookup("svc")
	require.True(t, ok)
	assert.Equal(t, remote.Owner, got.Owner)
}

func TestDropOwner(t *testing.T) {
	r := New(newKey(t))
	remote := newKey(t)
	other := newKey(t)

	local, err := r.Register("mine", actor.SpawnPing(), actor.TypeName, actor.TypeID)
	require.NoError(t, err)
	require.True(t, r.Merge(Record{Name: "theirs", Owner: remote, ActorType: actor.TypeName, TypeID: actor.TypeID, Clock: 1}))
	require.True(t, r.Merge(Record{Name: "others", Owner: other, ActorType: actor.TypeName, TypeID: actor.TypeID, Clock: 1}))

	ch := r.Watch()
	dropped := r.DropOwner(remote)
	require.Len(t, dropped, 1)
	assert.Equal(t, "theirs", dropped[0].Name)
	assert.True(t, dropped[0].Retracted)

	// Only the disconnected owner's records leave the view.
	_, ok := r.Lookup("theirs")
	assert.False(t, ok)
	_, ok = r.Lookup("others")
	assert.True(t, ok)
	got, ok := r.Lookup("mine")
	require.True(t, ok)
	assert.Equal(t, local, got)

	select {
	case rec := <-ch:
		assert.Equal(t, "theirs", rec.Name)
		assert.True(t, rec.Retracted)
	default:
		t.Fatal("expected a watch notification for the dropped record")
	}

	assert.Empty(t, r.DropOwner(remote))
}

func TestSnapshotSorted(t *testing.T) {
	r := New(newKey(t))
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		_, err := r.Register(name, actor.SpawnPing(), actor.TypeName, actor.TypeID)
		require.NoError(t, err)
	}
	_, ok := r.Unregister("bravo")
	require.True(t, ok)

	recs := r.Snapshot()
	require.Len(t, recs, 3)
	assert.Equal(t, "alpha", recs[0].Name)
	assert.Equal(t, "bravo", recs[1].Name)
	assert.True(t, recs[1].Retracted)
	assert.Equal(t, "charlie", recs[2].Name)
}

func TestWatch(t *testing.T) {
	r := New(newKey(t))
	ch := r.Watch()

	rec, err := r.Register("svc", actor.SpawnPing(), actor.TypeName, actor.TypeID)
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, rec, got)
	default:
		t.Fatal("expected a watch notification")
	}
}

func TestRecordWireRoundTrip(t *testing.T) {
	cases := []Record{
		{Name: actor.RegisteredName, Owner: newKey(t), ActorType: actor.TypeName, TypeID: actor.TypeID, Clock: 7},
		{Name: "gone", Owner: newKey(t), Clock: 12, Retracted: true},
	}
	for _, want := range cases {
		got, err := DecodeRecord(want.Encode())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDecodeRecordRejectsGarbage(t *testing.T) {
	rec := Record{Name: "svc", Owner: newKey(t), ActorType: actor.TypeName, TypeID: actor.TypeID, Clock: 1}
	b := rec.Encode()

	_, err := DecodeRecord(b[:10])
	assert.Equal(t, ErrInvalidRecord, err)

	// Trailing bytes are not tolerated.
	_, err = DecodeRecord(append(b, 0x0))
	assert.Equal(t, ErrInvalidRecord, err)

	// Flag byte must be 0 or 1.
	bad := make([]byte, len(b))
	copy(bad, b)
	bad[57] = 7
	_, err = DecodeRecord(bad)
	assert.Equal(t, ErrInvalidRecord, err)
}

func liveNames(r *Registry) []string {
	var names []string
	for _, rec := range r.Snapshot() {
		if !rec.Retracted {
			names = append(names, rec.Name)
		}
	}
	return names
}
