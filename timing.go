package gsusb

import (
	"encoding/binary"
	"fmt"
)

// Default sample points, in tenths of a percent. 87.5% for the nominal
// (arbitration) phase, 75% for the CAN FD data phase.
const (
	defaultSamplePoint     uint32 = 875
	defaultDataSamplePoint uint32 = 750
)

// BitTiming holds the segment register values sent with a BITTIMING or
// DATA_BITTIMING request.
type BitTiming struct {
	PropSeg   uint32
	PhaseSeg1 uint32
	PhaseSeg2 uint32
	SJW       uint32
	BRP       uint32
}

// pack serializes the timing as 5 little-endian uint32, 20 bytes.
func (t BitTiming) pack() []byte {
	buf := make([]byte, 0, 20)
	buf = binary.LittleEndian.AppendUint32(buf, t.PropSeg)
	buf = binary.LittleEndian.AppendUint32(buf, t.PhaseSeg1)
	buf = binary.LittleEndian.AppendUint32(buf, t.PhaseSeg2)
	buf = binary.LittleEndian.AppendUint32(buf, t.SJW)
	buf = binary.LittleEndian.AppendUint32(buf, t.BRP)
	return buf
}

func (t BitTiming) String() string {
	return fmt.Sprintf("prop_seg: %d phase_seg1: %d phase_seg2: %d sjw: %d brp: %d",
		t.PropSeg, t.PhaseSeg1, t.PhaseSeg2, t.SJW, t.BRP)
}

type timingKey struct {
	clockHz     uint32
	samplePoint uint32 // tenths of a percent
}

// seg is a (phase_seg1, phase_seg2, brp) triple; prop_seg and sjw are
// always 1 in the vetted tables.
type seg struct {
	phaseSeg1, phaseSeg2, brp uint32
}

func (s seg) timing() BitTiming {
	return BitTiming{PropSeg: 1, PhaseSeg1: s.phaseSeg1, PhaseSeg2: s.phaseSeg2, SJW: 1, BRP: s.brp}
}

// nominalTimings holds manufacturer-validated register values for the
// arbitration phase. Values outside these tables are rejected rather than
// computed: an approximated timing can violate bus tolerances on real
// silicon.
var nominalTimings = map[timingKey]map[uint32]seg{
	{48_000_000, 875}: {
		10_000:    {12, 2, 300},
		20_000:    {12, 2, 150},
		50_000:    {12, 2, 60},
		100_000:   {12, 2, 30},
		125_000:   {12, 2, 24},
		250_000:   {12, 2, 12},
		500_000:   {12, 2, 6},
		800_000:   {11, 2, 4},
		1_000_000: {12, 2, 3},
	},
	{80_000_000, 875}: {
		10_000:    {12, 2, 500},
		20_000:    {12, 2, 250},
		50_000:    {12, 2, 100},
		100_000:   {12, 2, 50},
		125_000:   {12, 2, 40},
		250_000:   {12, 2, 20},
		500_000:   {12, 2, 10},
		800_000:   {7, 1, 10},
		1_000_000: {12, 2, 5},
	},
	// CF3 / TCAN4550
	{40_000_000, 875}: {
		10_000:    {12, 2, 250},
		20_000:    {12, 2, 125},
		50_000:    {12, 2, 50},
		100_000:   {12, 2, 25},
		125_000:   {12, 2, 20},
		250_000:   {12, 2, 10},
		500_000:   {12, 2, 5},
		800_000:   {7, 1, 5},
		1_000_000: {5, 1, 5},
	},
}

// dataTimings holds the vetted register values for the CAN FD data phase.
var dataTimings = map[timingKey]map[uint32]seg{
	{80_000_000, 750}: {
		2_000_000: {4, 2, 5},
		4_000_000: {1, 1, 5},
		5_000_000: {4, 2, 2},
		8_000_000: {2, 1, 2},
	},
	{40_000_000, 750}: {
		2_000_000:  {6, 2, 2},
		4_000_000:  {2, 1, 2},
		5_000_000:  {4, 2, 1},
		8_000_000:  {2, 1, 1},
		10_000_000: {1, 1, 1},
	},
}

// resolveBitTiming looks up the vetted timing for the given clock, bitrate
// and sample point, in tenths of a percent. data selects the FD data-phase
// tables. Combinations without an entry fail; there is no fallback formula.
func resolveBitTiming(clockHz, bitrate, samplePoint uint32, data bool) (BitTiming, error) {
	tables := nominalTimings
	if data {
		tables = dataTimings
	}
	if table, ok := tables[timingKey{clockHz, samplePoint}]; ok {
		if s, ok := table[bitrate]; ok {
			return s.timing(), nil
		}
	}
	return BitTiming{}, &UnsupportedBitrateError{Bitrate: bitrate, ClockHz: clockHz, Data: data}
}
