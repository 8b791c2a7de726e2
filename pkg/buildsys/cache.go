package buildsys

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
)

// CacheFile is stored in the build root and holds the configure stamps
const CacheFile = ".tasks.cache"

// Stamp records the parameters of the last successful configure run for a mode
type Stamp struct {
	Mode       string
	ForceNinja bool
	Generator  string
	Defines    map[string]string
	Time       time.Time
}

// Stamps maps mode names to their stamp
type Stamps map[string]Stamp

func init() {
	gob.Register(Stamps{})
	gob.Register(Stamp{})
}

// WriteCache replaces the stamp file with the given stamps
func WriteCache(file string, stamps Stamps) error {
	if err := os.MkdirAll(filepath.Dir(file), 0770); err != nil {
		return eris.Wrapf(err, "failed to create %s", filepath.Dir(file))
	}

	handle, err := os.Create(file)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", file)
	}
	defer handle.Close()

	encoder := gob.NewEncoder(handle)
	return eris.Wrap(encoder.Encode(stamps), "failed to encode stamps")
}

// ReadCache loads the stamp file. A missing file yields an empty set.
func ReadCache(file string) (Stamps, error) {
	handle, err := os.Open(file)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return Stamps{}, nil
		}
		return nil, eris.Wrapf(err, "failed to open %s", file)
	}
	defer handle.Close()

	decoder := gob.NewDecoder(handle)

	var result Stamps
	err = decoder.Decode(&result)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to decode %s", file)
	}

	if result == nil {
		result = Stamps{}
	}
	return result, nil
}

// updateCache applies change to the stored stamps and writes them back
func updateCache(file string, change func(Stamps)) error {
	stamps, err := ReadCache(file)
	if err != nil {
		return err
	}

	change(stamps)
	return WriteCache(file, stamps)
}
