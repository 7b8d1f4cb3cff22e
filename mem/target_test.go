package mem

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("Bus", func() {
	var (
		mockCtrl *gomock.Controller
		rom      *MockTarget
		ram      *Storage
		bus      *Bus
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		rom = NewMockTarget(mockCtrl)
		ram = NewStorage(4 * KB)
		bus = NewBus()

		Expect(bus.Map(Region{Name: "rom", Base: 0, Size: 1 * KB, Target: rom})).
			To(Succeed())
		Expect(bus.Map(Region{Name: "ram", Base: 0x1000, Size: 4 * KB, Target: ram})).
			To(Succeed())
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should translate addresses into region offsets", func() {
		Expect(bus.Write(0x1010, []byte{9, 8})).To(Succeed())

		res, err := ram.Read(0x10, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal([]byte{9, 8}))
	})

	It("should forward to the mapped target", func() {
		rom.EXPECT().Read(uint64(0x20), uint64(4)).Return([]byte{1, 2, 3, 4}, nil)

		res, err := bus.Read(0x20, 4)

		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal([]byte{1, 2, 3, 4}))
	})

	It("should pass target errors through", func() {
		errRO := errors.New("read only")
		rom.EXPECT().Write(uint64(0), []byte{1}).Return(errRO)

		Expect(bus.Write(0, []byte{1})).To(MatchError(errRO))
	})

	It("should reject unmapped accesses", func() {
		_, err := bus.Read(0x800, 4)
		Expect(err).To(MatchError(ErrUnmapped))

		Expect(bus.Write(0x1ffe, []byte{1, 2, 3, 4})).To(MatchError(ErrUnmapped))
	})

	It("should reject overlapping regions", func() {
		err := bus.Map(Region{Name: "io", Base: 0x1800, Size: 16, Target: ram})

		Expect(err).To(MatchError(ContainSubstring("overlaps")))
	})
})
