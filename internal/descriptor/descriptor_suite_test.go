package descriptor

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestDescriptor(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Descriptor Suite")
}
