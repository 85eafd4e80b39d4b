package bayselm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
)

const (
	bosString = "<BOS>"
	eosString = "<EOS>"
)

// Vocab maps token strings to ids. BOS and EOS occupy ids 0 and 1.
type Vocab struct {
	str2id map[string]ID
	id2str []string
}

// NewVocab returns Vocab instance holding only the sentinels.
func NewVocab() *Vocab {
	vocab := new(Vocab)
	vocab.str2id = map[string]ID{bosString: BOS, eosString: EOS}
	vocab.id2str = []string{bosString, eosString}
	return vocab
}

// Add returns the id of s, assigning a new one on first sight.
func (vocab *Vocab) Add(s string) ID {
	if id, ok := vocab.str2id[s]; ok {
		return id
	}
	id := ID(len(vocab.id2str))
	vocab.str2id[s] = id
	vocab.id2str = append(vocab.id2str, s)
	return id
}

// ID returns the id of s.
func (vocab *Vocab) ID(s string) (ID, bool) {
	id, ok := vocab.str2id[s]
	return id, ok
}

// String returns the token of id.
func (vocab *Vocab) String(id ID) string {
	if int(id) >= len(vocab.id2str) {
		errMsg := fmt.Sprintf("Vocab.String error. id (%v) is out of range (%v)", id, len(vocab.id2str))
		panic(errMsg)
	}
	return vocab.id2str[id]
}

// Size returns the number of ids including the sentinels.
func (vocab *Vocab) Size() int {
	return len(vocab.id2str)
}

// Words returns every non-sentinel id.
func (vocab *Vocab) Words() []ID {
	words := make([]ID, 0, len(vocab.id2str))
	for id := EOS + 1; int(id) < len(vocab.id2str); id++ {
		words = append(words, id)
	}
	return words
}

// Decode joins the tokens of ids, dropping sentinels.
func (vocab *Vocab) Decode(ids []ID, sep string) string {
	var buf bytes.Buffer
	for _, id := range ids {
		if id == BOS || id == EOS {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString(sep)
		}
		buf.WriteString(vocab.String(id))
	}
	return buf.String()
}

// Save atomically writes the vocabulary as JSON.
func (vocab *Vocab) Save(filename string) error {
	data, err := json.Marshal(vocabJSON{Tokens: vocab.id2str})
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(filename, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("save vocab %v: %w", filename, err)
	}
	return nil
}

// LoadVocab reads a vocabulary written by Save.
func LoadVocab(filename string) (*Vocab, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var v vocabJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("load vocab %v: %w", filename, err)
	}
	if len(v.Tokens) < 2 || v.Tokens[BOS] != bosString || v.Tokens[EOS] != eosString {
		return nil, fmt.Errorf("load vocab %v: %w", filename, ErrInvalidFormat)
	}
	vocab := &Vocab{str2id: make(map[string]ID, len(v.Tokens)), id2str: v.Tokens}
	for i, s := range v.Tokens {
		if _, ok := vocab.str2id[s]; ok {
			return nil, fmt.Errorf("load vocab %v: %w: duplicate token %q", filename, ErrCorrupted, s)
		}
		vocab.str2id[s] = ID(i)
	}
	return vocab, nil
}
