package gsusb

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

type controlCall struct {
	request uint8
	value   uint16
	data    []byte
}

// fakeTransport simulates a gs_usb adapter at the Transport boundary.
type fakeTransport struct {
	feature uint32
	clockHz uint32

	resetErr   error
	detachErr  error
	claimErr   error
	controlErr map[uint8]error
	truncate   map[uint8]int // short control responses, by request

	controlOuts  []controlCall
	btConstReads int
	btExtReads   int

	bulkOuts [][]byte
	bulkIn   []func() ([]byte, error)
}

func newFakeTransport(feature, clockHz uint32) *fakeTransport {
	return &fakeTransport{
		feature:    feature,
		clockHz:    clockHz,
		controlErr: map[uint8]error{},
		truncate:   map[uint8]int{},
	}
}

func (t *fakeTransport) Reset() error              { return t.resetErr }
func (t *fakeTransport) DetachKernelDriver() error { return t.detachErr }
func (t *fakeTransport) ClaimInterface() error     { return t.claimErr }

func (t *fakeTransport) ControlOut(request uint8, value uint16, data []byte, _ time.Duration) error {
	if err := t.controlErr[request]; err != nil {
		return err
	}
	t.controlOuts = append(t.controlOuts, controlCall{request, value, append([]byte(nil), data...)})
	return nil
}

func (t *fakeTransport) ControlIn(request uint8, value uint16, length int, _ time.Duration) ([]byte, error) {
	if err := t.controlErr[request]; err != nil {
		return nil, err
	}
	var data []byte
	switch request {
	case breqBTConst:
		t.btConstReads++
		data = btConstResponse(t.feature, t.clockHz)
	case breqBTConstExt:
		t.btExtReads++
		data = btConstExtResponse(t.feature, t.clockHz)
	case breqDeviceConfig:
		data = []byte{0, 0, 0, 0, 21, 0, 0, 0, 10, 0, 0, 0}
	case breqGetState:
		data = []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	default:
		data = make([]byte, length)
	}
	if n, ok := t.truncate[request]; ok {
		data = data[:n]
	}
	return data, nil
}

func (t *fakeTransport) BulkOut(data []byte, _ time.Duration) error {
	t.bulkOuts = append(t.bulkOuts, append([]byte(nil), data...))
	return nil
}

func (t *fakeTransport) BulkIn(buf []byte, _ time.Duration) (int, error) {
	if len(t.bulkIn) == 0 {
		return 0, ErrTransferTimeout
	}
	next := t.bulkIn[0]
	t.bulkIn = t.bulkIn[1:]
	data, err := next()
	if err != nil {
		return 0, err
	}
	return copy(buf, data), nil
}

func (t *fakeTransport) queueFrame(data []byte) {
	t.bulkIn = append(t.bulkIn, func() ([]byte, error) { return data, nil })
}

func (t *fakeTransport) queueError(err error) {
	t.bulkIn = append(t.bulkIn, func() ([]byte, error) { return nil, err })
}

func (t *fakeTransport) lastControlOut(request uint8) *controlCall {
	for i := len(t.controlOuts) - 1; i >= 0; i-- {
		if t.controlOuts[i].request == request {
			return &t.controlOuts[i]
		}
	}
	return nil
}

func (t *fakeTransport) SerialNumber() (string, error) { return "004400265543", nil }
func (t *fakeTransport) Bus() int                      { return 1 }
func (t *fakeTransport) Address() int                  { return 4 }
func (t *fakeTransport) Close() error                  { return nil }

const allFeatures = FeatureListenOnly | FeatureLoopBack | FeatureTripleSample |
	FeatureOneShot | FeatureHWTimestamp | FeatureFD | FeatureBTConstExt | FeatureGetState

func TestStartFeatureMasking(t *testing.T) {
	tests := []struct {
		name      string
		feature   uint32
		requested uint32
		want      uint32
	}{
		{
			name:      "everything on full featured device",
			feature:   allFeatures,
			requested: 0xFFFFFFFF,
			want:      supportedModes,
		},
		{
			name:      "fd dropped without feature",
			feature:   FeatureListenOnly | FeatureHWTimestamp,
			requested: ModeFD | ModeHWTimestamp,
			want:      ModeHWTimestamp,
		},
		{
			name:      "driver mask drops triple sample",
			feature:   allFeatures,
			requested: ModeTripleSample | ModeLoopBack,
			want:      ModeLoopBack,
		},
		{
			name:      "normal mode",
			feature:   allFeatures,
			requested: ModeNormal,
			want:      0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport(tt.feature, 40_000_000)
			dev := NewDevice(tr)
			if err := dev.Start(tt.requested); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			if dev.Flags() != tt.want {
				t.Errorf("Flags() = 0x%08x, want 0x%08x", dev.Flags(), tt.want)
			}
			if dev.Flags()&^tt.feature != 0 {
				t.Errorf("effective flags 0x%08x contain bits outside feature mask 0x%08x", dev.Flags(), tt.feature)
			}
			if dev.FDMode() != (tt.want&ModeFD != 0) {
				t.Errorf("FDMode() = %v, want %v", dev.FDMode(), tt.want&ModeFD != 0)
			}
			if !dev.Started() {
				t.Error("Started() = false after Start")
			}
			mode := tr.lastControlOut(breqMode)
			if mode == nil {
				t.Fatal("no MODE request sent")
			}
			want := deviceMode{mode: canModeStart, flags: tt.want}.pack()
			if !bytes.Equal(mode.data, want) {
				t.Errorf("MODE payload = % X, want % X", mode.data, want)
			}
		})
	}
}

func TestStartSurfacesTransportErrors(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		prep func(*fakeTransport)
		op   string
	}{
		{"reset", func(tr *fakeTransport) { tr.resetErr = boom }, "reset"},
		{"detach", func(tr *fakeTransport) { tr.detachErr = boom }, "detach kernel driver"},
		{"claim", func(tr *fakeTransport) { tr.claimErr = boom }, "claim interface"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport(allFeatures, 40_000_000)
			tt.prep(tr)
			err := NewDevice(tr).Start(0)
			var te *TransferError
			if !errors.As(err, &te) {
				t.Fatalf("Start() error = %v, want TransferError", err)
			}
			if te.Op != tt.op {
				t.Errorf("Op = %q, want %q", te.Op, tt.op)
			}
			if !errors.Is(err, boom) {
				t.Error("TransferError does not unwrap to the cause")
			}
		})
	}
}

func TestStopSwallowsErrors(t *testing.T) {
	tr := newFakeTransport(allFeatures, 40_000_000)
	dev := NewDevice(tr)
	if err := dev.Start(0); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	tr.controlErr[breqMode] = errors.New("device unplugged")
	if err := dev.Stop(); err != nil {
		t.Errorf("Stop() error = %v, want nil", err)
	}
	if dev.Started() {
		t.Error("Started() = true after Stop")
	}
}

func TestSetBitrate(t *testing.T) {
	tr := newFakeTransport(allFeatures, 40_000_000)
	dev := NewDevice(tr)
	if err := dev.SetBitrate(500_000); err != nil {
		t.Fatalf("SetBitrate() error = %v", err)
	}
	call := tr.lastControlOut(breqBitTiming)
	if call == nil {
		t.Fatal("no BITTIMING request sent")
	}
	want := BitTiming{PropSeg: 1, PhaseSeg1: 12, PhaseSeg2: 2, SJW: 1, BRP: 5}
	if !bytes.Equal(call.data, want.pack()) {
		t.Errorf("BITTIMING payload = % X, want % X", call.data, want.pack())
	}
	if got := dev.LastTiming(); got == nil || *got != want {
		t.Errorf("LastTiming() = %v, want %v", got, want)
	}
	if dev.LastDataTiming() != nil {
		t.Error("LastDataTiming() != nil, data phase never set")
	}
}

func TestSetBitrateUnsupported(t *testing.T) {
	tr := newFakeTransport(allFeatures, 40_000_000)
	err := NewDevice(tr).SetBitrate(33_333)
	var ube *UnsupportedBitrateError
	if !errors.As(err, &ube) {
		t.Fatalf("SetBitrate() error = %v, want UnsupportedBitrateError", err)
	}
	if tr.lastControlOut(breqBitTiming) != nil {
		t.Error("BITTIMING sent despite unsupported bitrate")
	}
}

func TestSetDataBitrate(t *testing.T) {
	tr := newFakeTransport(allFeatures, 40_000_000)
	dev := NewDevice(tr)
	if err := dev.SetDataBitrate(5_000_000); err != nil {
		t.Fatalf("SetDataBitrate() error = %v", err)
	}
	call := tr.lastControlOut(breqDataBitTiming)
	if call == nil {
		t.Fatal("no DATA_BITTIMING request sent")
	}
	want := BitTiming{PropSeg: 1, PhaseSeg1: 4, PhaseSeg2: 2, SJW: 1, BRP: 1}
	if !bytes.Equal(call.data, want.pack()) {
		t.Errorf("DATA_BITTIMING payload = % X, want % X", call.data, want.pack())
	}
	if got := dev.LastDataTiming(); got == nil || *got != want {
		t.Errorf("LastDataTiming() = %v, want %v", got, want)
	}
}

func TestSetDataBitrateWithoutFD(t *testing.T) {
	tr := newFakeTransport(allFeatures&^FeatureFD, 40_000_000)
	err := NewDevice(tr).SetDataBitrate(5_000_000)
	if !errors.Is(err, ErrFDNotSupported) {
		t.Fatalf("SetDataBitrate() error = %v, want ErrFDNotSupported", err)
	}
	if tr.lastControlOut(breqDataBitTiming) != nil {
		t.Error("DATA_BITTIMING sent despite missing FD feature")
	}
}

func TestReadTimeoutIsRecoverable(t *testing.T) {
	tr := newFakeTransport(allFeatures, 40_000_000)
	dev := NewDevice(tr)
	if err := dev.Start(0); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	tr.queueError(ErrTransferTimeout)
	if _, err := dev.Read(10 * time.Millisecond); !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("Read() error = %v, want ErrReadTimeout", err)
	}

	// the session stays usable after a timeout
	rx := NewFrame(0x123, []byte{1, 2, 3})
	rx.EchoID = EchoIDRx
	tr.queueFrame(rx.Pack(false, false))
	frame, err := dev.Read(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("Read() after timeout error = %v", err)
	}
	if frame.ArbitrationID() != 0x123 || !frame.IsRXFrame() {
		t.Errorf("frame = %v, want rx frame 0x123", frame)
	}
}

func TestReadHardErrorIsNotTimeout(t *testing.T) {
	tr := newFakeTransport(allFeatures, 40_000_000)
	dev := NewDevice(tr)
	if err := dev.Start(0); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	tr.queueError(errors.New("pipe error"))
	_, err := dev.Read(10 * time.Millisecond)
	var te *TransferError
	if !errors.As(err, &te) || te.Op != "bulk in" {
		t.Fatalf("Read() error = %v, want bulk in TransferError", err)
	}
	if IsTimeout(err) {
		t.Error("IsTimeout() = true for a hard error")
	}
}

func TestReadSniffsFDFrames(t *testing.T) {
	tr := newFakeTransport(allFeatures, 40_000_000)
	dev := NewDevice(tr)
	if err := dev.Start(ModeFD); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !dev.FDMode() {
		t.Fatal("FDMode() = false, want true")
	}

	// classic frame interleaved into an FD session
	classic := NewFrame(0x100, []byte{0xAA, 0xBB})
	classic.EchoID = EchoIDRx
	tr.queueFrame(classic.Pack(false, false))

	fdData := make([]byte, 24)
	for i := range fdData {
		fdData[i] = byte(i)
	}
	fd := NewFDFrame(0x200, fdData, true)
	fd.EchoID = EchoIDRx
	tr.queueFrame(fd.Pack(false, true))

	got, err := dev.Read(time.Second)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.IsFD() || !bytes.Equal(got.Data(), []byte{0xAA, 0xBB}) {
		t.Errorf("classic frame mangled: %v", got)
	}

	got, err = dev.Read(time.Second)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !got.IsFD() || !got.IsBRS() || !bytes.Equal(got.Data(), fdData) {
		t.Errorf("fd frame mangled: %v", got)
	}
}

func TestSendReadBeforeStart(t *testing.T) {
	dev := NewDevice(newFakeTransport(allFeatures, 40_000_000))
	if err := dev.Send(NewFrame(0x123, nil)); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Send() error = %v, want ErrNotStarted", err)
	}
	if _, err := dev.Read(time.Millisecond); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Read() error = %v, want ErrNotStarted", err)
	}
}

func TestSendUsesNegotiatedFormat(t *testing.T) {
	tests := []struct {
		name     string
		flags    uint32
		wantSize int
	}{
		{"classic", 0, 20},
		{"timestamp", ModeHWTimestamp, 24},
		{"fd", ModeFD, 76},
		{"fd timestamp", ModeFD | ModeHWTimestamp, 80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport(allFeatures, 40_000_000)
			dev := NewDevice(tr)
			if err := dev.Start(tt.flags); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			if err := dev.Send(NewFrame(0x7FF, []byte{1, 2, 3})); err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if len(tr.bulkOuts) != 1 {
				t.Fatalf("bulk out count = %d, want 1", len(tr.bulkOuts))
			}
			if len(tr.bulkOuts[0]) != tt.wantSize {
				t.Errorf("bulk out size = %d, want %d", len(tr.bulkOuts[0]), tt.wantSize)
			}
		})
	}
}

func TestCapabilityMemoized(t *testing.T) {
	tr := newFakeTransport(allFeatures, 40_000_000)
	dev := NewDevice(tr)
	for i := 0; i < 3; i++ {
		cap, err := dev.Capability()
		if err != nil {
			t.Fatalf("Capability() error = %v", err)
		}
		if cap.ClockHz != 40_000_000 {
			t.Errorf("ClockHz = %d, want 40000000", cap.ClockHz)
		}
	}
	if tr.btConstReads != 1 {
		t.Errorf("BT_CONST fetched %d times, want 1", tr.btConstReads)
	}
}

func TestCapabilityExtended(t *testing.T) {
	tr := newFakeTransport(allFeatures, 80_000_000)
	dev := NewDevice(tr)
	ext, err := dev.CapabilityExtended()
	if err != nil {
		t.Fatalf("CapabilityExtended() error = %v", err)
	}
	if ext == nil || !ext.HasFDTiming() {
		t.Fatalf("CapabilityExtended() = %v, want data phase limits", ext)
	}
	// second call is served from the cache
	if _, err := dev.CapabilityExtended(); err != nil {
		t.Fatal(err)
	}
	if tr.btExtReads != 1 {
		t.Errorf("BT_CONST_EXT fetched %d times, want 1", tr.btExtReads)
	}
	// the nominal fields stay stable across the wider fetch
	cap, err := dev.Capability()
	if err != nil {
		t.Fatal(err)
	}
	if cap.ClockHz != 80_000_000 || cap.Feature != allFeatures {
		t.Errorf("nominal fields changed after extended fetch: %+v", cap)
	}
}

func TestCapabilityExtendedNotAdvertised(t *testing.T) {
	tr := newFakeTransport(allFeatures&^FeatureBTConstExt, 40_000_000)
	dev := NewDevice(tr)
	ext, err := dev.CapabilityExtended()
	if err != nil {
		t.Fatalf("CapabilityExtended() error = %v", err)
	}
	if ext != nil {
		t.Errorf("CapabilityExtended() = %v, want nil when not advertised", ext)
	}
	if tr.btExtReads != 0 {
		t.Error("BT_CONST_EXT fetched despite missing feature bit")
	}
}

func TestShortControlResponse(t *testing.T) {
	tr := newFakeTransport(allFeatures, 40_000_000)
	tr.truncate[breqBTConst] = 32
	_, err := NewDevice(tr).Capability()
	var ire *InvalidResponseError
	if !errors.As(err, &ire) {
		t.Fatalf("Capability() error = %v, want InvalidResponseError", err)
	}
	if ire.Expected != 40 || ire.Actual != 32 {
		t.Errorf("InvalidResponseError = %+v, want expected 40 actual 32", ire)
	}
}

func TestInfo(t *testing.T) {
	tr := newFakeTransport(allFeatures, 40_000_000)
	info, err := NewDevice(tr).Info()
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.ChannelCount() != 1 {
		t.Errorf("ChannelCount() = %d, want 1", info.ChannelCount())
	}
	if info.FirmwareVersion() != 2.1 {
		t.Errorf("FirmwareVersion() = %v, want 2.1", info.FirmwareVersion())
	}
}

func TestState(t *testing.T) {
	tr := newFakeTransport(allFeatures, 40_000_000)
	state, err := NewDevice(tr).State(0)
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if !state.IsErrorActive() {
		t.Errorf("State = %v, want ERROR_ACTIVE", state)
	}
}

func TestStateNotSupported(t *testing.T) {
	tr := newFakeTransport(allFeatures&^FeatureGetState, 40_000_000)
	_, err := NewDevice(tr).State(0)
	if !errors.Is(err, ErrGetStateNotSupported) {
		t.Fatalf("State() error = %v, want ErrGetStateNotSupported", err)
	}
}

func TestSendHostFormatSwallowsErrors(t *testing.T) {
	tr := newFakeTransport(allFeatures, 40_000_000)
	tr.controlErr[breqHostFormat] = errors.New("stall")
	if err := NewDevice(tr).SendHostFormat(); err != nil {
		t.Errorf("SendHostFormat() error = %v, want nil", err)
	}
}

func TestSerialNumberCached(t *testing.T) {
	tr := newFakeTransport(allFeatures, 40_000_000)
	dev := NewDevice(tr)
	sn, err := dev.SerialNumber()
	if err != nil {
		t.Fatalf("SerialNumber() error = %v", err)
	}
	if sn != "004400265543" {
		t.Errorf("SerialNumber() = %q", sn)
	}
}
