// Package s3 implements the S3 HTTP surface: bucket CRUD, object
// GET/PUT/DELETE, and the XML error envelope. Authentication happens
// upstream in the sigv4 middleware; encryption and metadata handling
// are delegated to their packages.
package s3
