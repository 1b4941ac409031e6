// Package domain models the daily environmental rasters produced for
// continental Portugal.
//
// # Data Source
//
// Point measurements come from the Open-Meteo historical archive
// (https://archive-api.open-meteo.com/v1/archive). The acquisition adapter
// queries a regular lattice of points (0.1° by default) lying inside the
// country boundary buffered by 0.15°, and stores one JSON file per point and
// variable under the cache directory:
//
//	<cache>/<variable cache>/<lat>_<lon>.json
//	{"lat": 38.7, "lon": -9.2, "dates": ["2025-12-01", ...], "values": [0.31, null, ...]}
//
// File names use the shortest decimal form that still carries a fractional
// part ("39.0", not "39"), so caches written by earlier tooling stay valid.
//
// # Variables
//
//	soil-moisture  hourly soil_moisture_0_to_7cm, reduced to a daily mean
//	               of the non-null hours (m³/m³). Continuous styling.
//	precipitation  daily precipitation_sum (mm). Classified styling.
//
// Null provider values are dropped when a SampleSet is built; they never
// reach interpolation.
//
// # Grid Conventions
//
// The Domain is a fixed bounding box with a square pixel size in degrees.
// Grids are stored north-up: row 0 is the northern edge, column 0 the
// western edge, and cell values are estimated at cell centers. The affine
// transform follows the GDAL ordering (origin x, pixel width, row rotation,
// origin y, column rotation, negative pixel height).
//
// NaN is the only sentinel. It marks both cells outside the boundary polygon
// and cells where no estimate exists; every consumer (GeoTIFF nodata, color
// mapping, validation) treats it the same way.
//
// # File Naming
//
// Artifacts are keyed by variable and ISO date:
//
//	<cog dir>/<variable>/<YYYY-MM-DD>.tif
//	<frames dir>/<variable>/<YYYY-MM-DD>.png
//
// Names depend only on the inputs, so re-runs overwrite in place and the
// manifest stays stable.
package domain
