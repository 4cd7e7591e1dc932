// Package queuenames lists the job queues the worker serves.
package queuenames

// CourseVideoReconcile jobs carry a course key as their payload and rescan
// that course's video directory.
const CourseVideoReconcile = "course_video_reconcile"
