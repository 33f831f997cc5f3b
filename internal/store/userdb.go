package store

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/awacha/cctd/internal/auth"
)

// User and Project bucket names, grounded on the teacher's bucket-per-
// entity-type convention in internal/storage/bolt.go (bucketBaselines/
// bucketLedger/bucketMeta), generalized to the User/Project database.
const (
	bucketUsers    = "users"
	bucketProjects = "projects"
)

// User is a registered operator: a username, a human name, a privilege
// ceiling, and optional contact/credential fields.
type User struct {
	Username      string
	FirstName     string
	LastName      string
	MaxPrivilege  auth.PrivilegeLevel
	Email         string
	PasswordHash  string // empty if this user authenticates some other way
}

// Project is a proposal a sample's measurements can be attributed to.
type Project struct {
	ID       string
	Name     string
	Proposer string
}

// UserProjectDB is the bbolt-backed User/Project database, grounded on
// the teacher's internal/storage/bolt.go Open/PutBaseline/
// GetBaseline shape, generalized from one fixed bucket pair to a
// Put(bucket, key, v)/Get(bucket, key, &out) pair reused for both
// entity types.
type UserProjectDB struct {
	db *bolt.DB
}

// OpenUserProjectDB opens (or creates) the bbolt file at path, ensuring the
// users and projects buckets exist.
func OpenUserProjectDB(path string) (*UserProjectDB, error) {
	bdb, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open user/project db %q: %w", path, err)
	}
	if err := bdb.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketUsers, bucketProjects} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return &UserProjectDB{db: bdb}, nil
}

// Close closes the underlying bbolt file.
func (d *UserProjectDB) Close() error { return d.db.Close() }

func put(db *bolt.DB, bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal %s/%s: %w", bucket, key, err)
	}
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
}

func get(db *bolt.DB, bucket, key string, out any) (bool, error) {
	var found bool
	err := db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, out)
	})
	if err != nil {
		return false, fmt.Errorf("store: read %s/%s: %w", bucket, key, err)
	}
	return found, nil
}

func listBucket(db *bolt.DB, bucket string, newItem func() any, out func(item any)) error {
	return db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		return b.ForEach(func(k, v []byte) error {
			item := newItem()
			if err := json.Unmarshal(v, item); err != nil {
				return fmt.Errorf("store: decode %s/%s: %w", bucket, string(k), err)
			}
			out(item)
			return nil
		})
	})
}

// PutUser creates or replaces the user keyed by Username.
func (d *UserProjectDB) PutUser(u User) error {
	if u.Username == "" {
		return fmt.Errorf("store: user must have a username")
	}
	return put(d.db, bucketUsers, u.Username, u)
}

// GetUser looks up a user by username.
func (d *UserProjectDB) GetUser(username string) (*User, error) {
	var u User
	found, err := get(d.db, bucketUsers, username, &u)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("store: unknown user %q", username)
	}
	return &u, nil
}

// DeleteUser removes the named user.
func (d *UserProjectDB) DeleteUser(username string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketUsers)).Delete([]byte(username))
	})
}

// ListUsers returns every registered user.
func (d *UserProjectDB) ListUsers() ([]User, error) {
	var out []User
	err := listBucket(d.db, bucketUsers, func() any { return new(User) }, func(item any) {
		out = append(out, *item.(*User))
	})
	return out, err
}

// PutProject creates a project, assigning a fresh ID if p.ID is empty, or
// replaces an existing one if p.ID is already set.
func (d *UserProjectDB) PutProject(p Project) (Project, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := put(d.db, bucketProjects, p.ID, p); err != nil {
		return Project{}, err
	}
	return p, nil
}

// GetProject looks up a project by ID.
func (d *UserProjectDB) GetProject(id string) (*Project, error) {
	var p Project
	found, err := get(d.db, bucketProjects, id, &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("store: unknown project %q", id)
	}
	return &p, nil
}

// DeleteProject removes the named project.
func (d *UserProjectDB) DeleteProject(id string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketProjects)).Delete([]byte(id))
	})
}

// ListProjects returns every registered project.
func (d *UserProjectDB) ListProjects() ([]Project, error) {
	var out []Project
	err := listBucket(d.db, bucketProjects, func() any { return new(Project) }, func(item any) {
		out = append(out, *item.(*Project))
	})
	return out, err
}
