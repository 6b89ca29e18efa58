// Package demandtex is a demand-driven GPU texture residency manager.
//
// Applications register any number of textures (by file path, by
// in-memory pixels, or through a pluggable image source), but nothing is
// decoded or uploaded until the GPU actually samples it. A kernel samples
// through a compact device context: a residency bitmap, a texture-object
// table, and a request ring. Samples of resident textures read the texture
// object; misses append the texture ID to the ring. After the launch the
// host drains the ring, evicts the least valuable textures if the byte
// budget requires it, decodes and uploads the missed textures in parallel,
// and the application re-launches. Repeat until no requests remain.
//
// Typical frame loop:
//
//	rt, _ := backend.Default()
//	loader, _ := demandtex.NewLoader(rt, demandtex.LoaderOptions{})
//	defer loader.Close()
//
//	tex := loader.CreateTexture("albedo.png", demandtex.TextureDesc{})
//
//	for !done {
//		loader.LaunchPrepare(stream)
//		ctx := loader.DeviceContext()
//		launchKernel(stream, ctx, tex.ID)
//		loader.ProcessRequests(stream, ctx) // or ProcessRequestsAsync
//	}
//
// The loader is safe for concurrent use; see the method documentation for
// the two launch-related exceptions.
//
// By default demandtex produces no log output. Call SetLogger to enable
// structured logging.
package demandtex
