package naclsource

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	bolt "go.etcd.io/bbolt"

	"github.com/salto-io/workspace-core/internal/elemid"
	"github.com/salto-io/workspace-core/internal/element"
	werrors "github.com/salto-io/workspace-core/internal/errors"
	"github.com/salto-io/workspace-core/internal/parser"
)

var fragmentsBucket = []byte("fragments")

// cache is the on-disk parse cache from spec.md §4.4: keyed by file path
// plus content hash, so a file whose content hasn't changed skips the
// parser entirely. An advisory flock guards the bbolt file against two
// processes interleaving writes during Flush.
type cache struct {
	db   *bolt.DB
	lock *flock.Flock
	path string
}

func openCache(path string) (*cache, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil || !locked {
		return nil, fmt.Errorf("naclsource: cache lock busy at %s", path)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(fragmentsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	return &cache{db: db, lock: lock, path: path}, nil
}

func cacheKey(name string, content []byte) []byte {
	sum := sha256.Sum256(content)
	return []byte(name + "#" + hex.EncodeToString(sum[:]))
}

// cacheRecord is the gob-encodable projection of parser.FileFragments.
// element.Element is an interface, so each fragment is carried as an
// elementRecord tagged union of concrete variants rather than gob'd
// through the interface directly.
type cacheRecord struct {
	Elements   []elementRecord
	SourceMap  map[string][]element.SourceRange
	Errors     []errorRecord
	Referenced []elemid.ID
}

// elementRecord holds exactly one non-nil field, naming which concrete
// element.Element variant a fragment's entry is.
type elementRecord struct {
	Primitive *element.PrimitiveType
	Object    *element.ObjectType
	List      *element.ListType
	Map       *element.MapType
	Instance  *element.InstanceElement
}

func (r elementRecord) toElement() (element.Element, bool) {
	switch {
	case r.Primitive != nil:
		return r.Primitive, true
	case r.Object != nil:
		return r.Object, true
	case r.List != nil:
		return r.List, true
	case r.Map != nil:
		return r.Map, true
	case r.Instance != nil:
		return r.Instance, true
	default:
		return nil, false
	}
}

func toElementRecord(el element.Element) elementRecord {
	switch v := el.(type) {
	case *element.PrimitiveType:
		return elementRecord{Primitive: v}
	case *element.ObjectType:
		return elementRecord{Object: v}
	case *element.ListType:
		return elementRecord{List: v}
	case *element.MapType:
		return elementRecord{Map: v}
	case *element.InstanceElement:
		return elementRecord{Instance: v}
	default:
		return elementRecord{}
	}
}

// errorRecord mirrors werrors.ParseError with exported fields so a cached
// parse failure round-trips without re-running the lexer/parser.
type errorRecord struct {
	Kind    werrors.ParseErrorKind
	Message string
	Context element.SourceRange
	Subject element.SourceRange
}

func (c *cache) lookup(name string, content []byte) (*parser.FileFragments, bool) {
	var rec cacheRecord
	found := false
	_ = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(fragmentsBucket)
		raw := b.Get(cacheKey(name, content))
		if raw == nil {
			return nil
		}
		dec := gob.NewDecoder(bytes.NewReader(raw))
		if err := dec.Decode(&rec); err != nil {
			return nil
		}
		found = true
		return nil
	})
	if !found {
		return nil, false
	}

	ff := &parser.FileFragments{SourceMap: element.NewSourceMap(), Referenced: map[string]elemid.ID{}}
	for _, er := range rec.Elements {
		el, ok := er.toElement()
		if !ok {
			continue
		}
		ff.Elements = append(ff.Elements, el)
	}
	for fullName, ranges := range rec.SourceMap {
		for _, r := range ranges {
			ff.SourceMap.Add(fullName, r)
		}
	}
	for _, id := range rec.Referenced {
		ff.Referenced[id.GetFullName()] = id
	}
	for _, er := range rec.Errors {
		ff.Errors = append(ff.Errors, werrors.NewParseError(er.Kind, er.Message, er.Context, er.Subject))
	}
	return ff, true
}

func (c *cache) store(name string, content []byte, ff *parser.FileFragments) error {
	rec := cacheRecord{SourceMap: map[string][]element.SourceRange{}}
	for _, el := range ff.Elements {
		rec.Elements = append(rec.Elements, toElementRecord(el))
	}
	for _, key := range ff.SourceMap.Keys() {
		rec.SourceMap[key] = ff.SourceMap.Get(key)
	}
	for _, id := range ff.Referenced {
		rec.Referenced = append(rec.Referenced, id)
	}
	for _, e := range ff.Errors {
		context, _ := e.SourceRange()
		rec.Errors = append(rec.Errors, errorRecord{Kind: e.Kind, Message: e.Message, Context: context, Subject: e.Subject})
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(fragmentsBucket)
		return b.Put(cacheKey(name, content), buf.Bytes())
	})
}
