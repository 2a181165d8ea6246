package zbcoll

const (
	// MapBits is the width of the data field of a real packet. It bounds the
	// number of group ids, since negotiation carries a bitmap of free ids.
	MapBits = 54
	// GrpIDBits is the width of the group id field.
	GrpIDBits = 6
	// SimBits is the width of each of the simulated src and dst fields.
	SimBits = 5
	// SimMax is the largest number of simulated ranks.
	SimMax = 1 << SimBits

	// NegotiationID is the group id carried by getgroup traffic.
	NegotiationID = MapBits - 1
	// rejectID marks a reply to a packet for an unknown group.
	rejectID = MapBits

	grpidShift = MapBits
	simShift   = MapBits + GrpIDBits
	srcShift   = MapBits - 2*SimBits
	dstShift   = srcShift + SimBits

	grpidMask = 1<<GrpIDBits - 1
	simMask   = 1<<SimBits - 1
)

// DataBits returns the number of payload bits delivered by one packet.
func DataBits(sim bool) int {
	if sim {
		return MapBits - 2*SimBits
	}
	return MapBits
}

func dataMask(sim bool) uint64 {
	return 1<<uint(DataBits(sim)) - 1
}

// packet is the decoded form of the 64-bit word sent on the wire.
//
//	real: dat[0:54] grpid[54:60] sim[60]
//	sim:  dat[0:44] src[44:49] dst[49:54] grpid[54:60] sim[60]
type packet struct {
	sim   bool
	src   int
	dst   int
	grpid int
	data  uint64
}

func (p packet) pack() uint64 {
	bits := uint64(p.grpid&grpidMask) << grpidShift
	bits |= p.data & dataMask(p.sim)
	if p.sim {
		bits |= 1 << simShift
		bits |= uint64(p.src&simMask) << srcShift
		bits |= uint64(p.dst&simMask) << dstShift
	}
	return bits
}

func unpack(bits uint64) packet {
	p := packet{
		sim:   bits>>simShift&1 == 1,
		grpid: int(bits >> grpidShift & grpidMask),
	}
	p.data = bits & dataMask(p.sim)
	if p.sim {
		p.src = int(bits >> srcShift & simMask)
		p.dst = int(bits >> dstShift & simMask)
	}
	return p
}
