package wgpu

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/demandtex/gpu"
)

// residencyShaderWGSL is the stock device-side sampling shim: for each
// requested texture ID it tests the residency bitmap and, on a miss,
// appends the ID to the request ring with workgroup-level deduplication
// and a sticky overflow flag past capacity. Kernels that sample inline
// embed the same logic; this pipeline exists for visibility passes that
// only want to touch residency.
const residencyShaderWGSL = `
struct Config {
    max_textures: u32,
    max_requests: u32,
    id_count: u32,
    _pad: u32,
}

@group(0) @binding(0) var<uniform> config: Config;
@group(0) @binding(1) var<storage, read> resident_flags: array<u32>;
@group(0) @binding(2) var<storage, read> sample_ids: array<u32>;
@group(1) @binding(0) var<storage, read_write> requests: array<u32>;
@group(1) @binding(1) var<storage, read_write> request_stats: array<atomic<u32>, 2>;

const WORKGROUP_SIZE: u32 = 64u;

var<workgroup> wg_ids: array<u32, 64>;

fn is_resident(id: u32) -> bool {
    let word = resident_flags[id >> 5u];
    return (word & (1u << (id & 31u))) != 0u;
}

fn record_request(id: u32) {
    let idx = atomicAdd(&request_stats[0], 1u);
    if (idx < config.max_requests) {
        requests[idx] = id;
    } else {
        atomicStore(&request_stats[1], 1u);
    }
}

@compute @workgroup_size(64)
fn cs_check_residency(
    @builtin(global_invocation_id) gid: vec3<u32>,
    @builtin(local_invocation_index) lid: u32,
) {
    var id = 0xffffffffu;
    if (gid.x < config.id_count) {
        id = sample_ids[gid.x];
    }
    wg_ids[lid] = id;
    workgroupBarrier();

    if (id == 0xffffffffu || id >= config.max_textures) {
        return;
    }
    if (is_resident(id)) {
        return;
    }

    // Workgroup-level dedup: only the lowest lane holding this ID appends.
    // Correctness does not depend on it; it just trims ring pressure.
    var leader = true;
    for (var i = 0u; i < lid; i = i + 1u) {
        if (wg_ids[i] == id) {
            leader = false;
            break;
        }
    }
    if (leader) {
        record_request(id);
    }
}
`

// ResidencyShim is a compute pipeline running the stock sampling protocol
// over a buffer of texture IDs. It exists for applications that resolve
// visibility in a dedicated pass before their shading kernels run.
type ResidencyShim struct {
	rt *Runtime

	mu          sync.Mutex
	module      hal.ShaderModule
	inputLayout hal.BindGroupLayout
	ringLayout  hal.BindGroupLayout
	layout      hal.PipelineLayout
	pipeline    hal.ComputePipeline
	initialized bool
}

// NewResidencyShim compiles the shim shader and builds its pipeline.
func NewResidencyShim(rt *Runtime) (*ResidencyShim, error) {
	s := &ResidencyShim{rt: rt}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ResidencyShim) init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	spirvBytes, err := naga.Compile(residencyShaderWGSL)
	if err != nil {
		return fmt.Errorf("wgpu: compile residency shader: %w", err)
	}
	spirv := make([]uint32, len(spirvBytes)/4)
	for i := range spirv {
		spirv[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}

	module, err := s.rt.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "residency_shim",
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return fmt.Errorf("wgpu: create shim shader module: %w", err)
	}
	s.module = module

	inputLayout, err := s.rt.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "residency_input_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{
					Type:           gputypes.BufferBindingTypeUniform,
					MinBindingSize: 16,
				},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{
					Type: gputypes.BufferBindingTypeReadOnlyStorage,
				},
			},
			{
				Binding:    2,
				Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{
					Type: gputypes.BufferBindingTypeReadOnlyStorage,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: create shim input layout: %w", err)
	}
	s.inputLayout = inputLayout

	ringLayout, err := s.rt.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "residency_ring_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{
					Type: gputypes.BufferBindingTypeStorage,
				},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{
					Type: gputypes.BufferBindingTypeStorage,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: create shim ring layout: %w", err)
	}
	s.ringLayout = ringLayout

	layout, err := s.rt.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "residency_pipeline_layout",
		BindGroupLayouts: []hal.BindGroupLayout{s.inputLayout, s.ringLayout},
	})
	if err != nil {
		return fmt.Errorf("wgpu: create shim pipeline layout: %w", err)
	}
	s.layout = layout

	pipeline, err := s.rt.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  "residency_pipeline",
		Layout: s.layout,
		Compute: hal.ComputeState{
			Module:     s.module,
			EntryPoint: "cs_check_residency",
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: create shim pipeline: %w", err)
	}
	s.pipeline = pipeline

	s.initialized = true
	return nil
}

// Dispatch runs the shim over idCount texture IDs stored in idBuf,
// checking them against the context's bitmap and appending misses to the
// ring. The context buffers must come from this runtime.
func (s *ResidencyShim) Dispatch(flags, requests, stats gpu.Buffer, idBuf gpu.Buffer, idCount, maxTextures, maxRequests uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return fmt.Errorf("wgpu: residency shim not initialized")
	}

	fb, ok1 := flags.(*Buffer)
	rb, ok2 := requests.(*Buffer)
	sb, ok3 := stats.(*Buffer)
	ib, ok4 := idBuf.(*Buffer)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return gpu.ErrInvalidArgument
	}

	cfg := make([]byte, 16)
	binary.LittleEndian.PutUint32(cfg[0:], maxTextures)
	binary.LittleEndian.PutUint32(cfg[4:], maxRequests)
	binary.LittleEndian.PutUint32(cfg[8:], idCount)

	uniformBuf, err := s.rt.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "residency_config",
		Size:  16,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create shim uniform: %w", err)
	}
	defer s.rt.device.DestroyBuffer(uniformBuf)

	inputGroup, err := s.rt.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "residency_input_bind",
		Layout: s.inputLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: uniformBuf.NativeHandle(), Offset: 0, Size: 16}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: fb.buf.NativeHandle(), Offset: 0, Size: uint64(fb.size)}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: ib.buf.NativeHandle(), Offset: 0, Size: uint64(ib.size)}},
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: create shim input bind group: %w", err)
	}
	ringGroup, err := s.rt.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "residency_ring_bind",
		Layout: s.ringLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: rb.buf.NativeHandle(), Offset: 0, Size: uint64(rb.size)}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: sb.buf.NativeHandle(), Offset: 0, Size: uint64(sb.size)}},
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: create shim ring bind group: %w", err)
	}

	encoder, err := s.rt.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "residency_encoder"})
	if err != nil {
		return fmt.Errorf("wgpu: create shim encoder: %w", err)
	}
	if err := encoder.BeginEncoding("residency"); err != nil {
		return fmt.Errorf("wgpu: begin shim encoding: %w", err)
	}

	s.rt.queueMu.Lock()
	s.rt.queue.WriteBuffer(uniformBuf, 0, cfg)
	s.rt.queueMu.Unlock()

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "residency_pass"})
	pass.SetPipeline(s.pipeline)
	pass.SetBindGroup(0, inputGroup, nil)
	pass.SetBindGroup(1, ringGroup, nil)
	pass.Dispatch((idCount+63)/64, 1, 1)
	pass.End()

	cmd, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end shim encoding: %w", err)
	}
	defer s.rt.device.FreeCommandBuffer(cmd)

	s.rt.queueMu.Lock()
	defer s.rt.queueMu.Unlock()
	if err := s.rt.queue.Submit([]hal.CommandBuffer{cmd}, nil, 0); err != nil {
		return fmt.Errorf("wgpu: submit shim dispatch: %w", err)
	}
	return nil
}

// Close destroys the shader module and marks the shim uninitialized. The
// compute pipeline, pipeline layout and bind group layouts are not destroyed.
func (s *ResidencyShim) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.module != nil {
		s.rt.device.DestroyShaderModule(s.module)
		s.module = nil
	}
	s.initialized = false
}
