package secrets_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/kubev2v/role-normalizer/internal/secrets"
	"github.com/kubev2v/role-normalizer/pkg/objectstore"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("secrets", func() {
	Context("parse", func() {
		It("parses yaml", func() {
			creds, err := secrets.Parse([]byte("username: svc\npassword: s3cret\n"))
			Expect(err).To(BeNil())
			Expect(creds.Username).To(Equal("svc"))
			Expect(creds.Password).To(Equal("s3cret"))
		})

		It("parses json", func() {
			creds, err := secrets.Parse([]byte(`{"username": "svc", "password": "s3cret"}`))
			Expect(err).To(BeNil())
			Expect(creds.Username).To(Equal("svc"))
		})

		It("rejects incomplete credentials", func() {
			_, err := secrets.Parse([]byte("username: svc\n"))
			Expect(err).NotTo(BeNil())
		})
	})

	Context("resolve", func() {
		It("prefers the file", func() {
			path := filepath.Join(GinkgoT().TempDir(), "creds.yaml")
			Expect(os.WriteFile(path, []byte("username: file\npassword: pass\n"), 0o600)).To(Succeed())

			creds, err := secrets.Resolve(context.TODO(), secrets.Sources{File: path, Username: "env", Password: "env"}, nil)
			Expect(err).To(BeNil())
			Expect(creds.Username).To(Equal("file"))
		})

		It("reads an object", func() {
			objects := &fakeObjects{body: "username: remote\npassword: pass\n"}

			creds, err := secrets.Resolve(context.TODO(), secrets.Sources{Object: "s3://secrets/normalizer.yaml"}, objects)
			Expect(err).To(BeNil())
			Expect(creds.Username).To(Equal("remote"))
			Expect(objects.requested.Bucket).To(Equal("secrets"))
			Expect(objects.requested.Key).To(Equal("normalizer.yaml"))
		})

		It("falls back to inline credentials", func() {
			creds, err := secrets.Resolve(context.TODO(), secrets.Sources{Username: "env", Password: "pass"}, nil)
			Expect(err).To(BeNil())
			Expect(creds.Username).To(Equal("env"))
		})

		It("fails without any source", func() {
			_, err := secrets.Resolve(context.TODO(), secrets.Sources{}, nil)
			Expect(errors.Is(err, secrets.ErrNoCredentials)).To(BeTrue())
		})
	})
})

type fakeObjects struct {
	body      string
	requested objectstore.Location
}

func (f *fakeObjects) ReadAll(_ context.Context, loc objectstore.Location) ([]byte, error) {
	f.requested = loc
	return []byte(f.body), nil
}
